package agent

import (
	"context"
	"fmt"
)

// ToolExecutor is the tool dispatch seam between iteration controllers and
// whatever actually runs tools. The MCP-backed implementation lives in
// pkg/mcp; the stub below serves controllers running without servers.
type ToolExecutor interface {
	// Execute runs one tool call. Tool failures come back as a ToolResult
	// with IsError set, not as an error; the error return is reserved for
	// dispatch failures.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// ListTools returns the tool definitions visible to this execution,
	// or nil when no tools are configured.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// Close releases transports and subprocesses.
	Close() error
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	CallID  string // matches ToolCall.ID
	Name    string // server.tool form
	Content string // textual tool output
	IsError bool
}

// StubToolExecutor satisfies ToolExecutor with canned responses. Used when
// an agent has no MCP servers and in controller tests.
type StubToolExecutor struct {
	tools []ToolDefinition
}

// NewStubToolExecutor creates a stub advertising the given definitions.
func NewStubToolExecutor(tools []ToolDefinition) *StubToolExecutor {
	return &StubToolExecutor{tools: tools}
}

func (s *StubToolExecutor) Execute(_ context.Context, call ToolCall) (*ToolResult, error) {
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("[stub] Tool %q called with args: %s", call.Name, call.Arguments),
	}, nil
}

func (s *StubToolExecutor) ListTools(_ context.Context) ([]ToolDefinition, error) {
	return s.tools, nil
}

func (s *StubToolExecutor) Close() error { return nil }
