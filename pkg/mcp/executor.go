package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/masking"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// Compile-time check that ToolExecutor implements agent.ToolExecutor.
var _ agent.ToolExecutor = (*ToolExecutor)(nil)

// errorTypeToolExecutionFailure tags error records returned for rejected or
// failed tool calls.
const errorTypeToolExecutionFailure = "tool_execution_failure"

// toolErrorRecord is the structured payload a failed tool call yields instead
// of a Go error. The iteration loop feeds it back to the LLM as an observation
// so the model can correct itself.
type toolErrorRecord struct {
	Tool      string `json:"tool"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// ToolExecutor implements agent.ToolExecutor backed by real MCP servers.
// Created per-session by ClientFactory; ForStage derives stage-scoped copies
// so captured interactions carry the stage execution identity.
type ToolExecutor struct {
	client *Client
	hooks  *hooks.Manager

	// Capture identity stamped on every recorded interaction.
	sessionID        string
	stageExecutionID *string

	// Resolved list of server IDs this executor can access.
	serverIDs []string

	// Optional tool filter per server (from MCP selection override).
	// nil means all tools for that server are available.
	toolFilter map[string][]string // serverID → allowed tool names (nil = all)

	// Optional masking service for redacting sensitive data in tool results.
	// nil means no masking is applied.
	maskingService *masking.Service

	// Token budget for tool result content fed back to the LLM.
	// 0 disables the cap (storage truncation still applies to the record).
	maxResultTokens int
}

// NewToolExecutor creates a new executor for the given servers.
// maskingService may be nil (masking disabled); hookMgr must not be nil.
func NewToolExecutor(
	client *Client,
	hookMgr *hooks.Manager,
	maskingService *masking.Service,
	sessionID string,
	serverIDs []string,
	toolFilter map[string][]string,
) *ToolExecutor {
	return &ToolExecutor{
		client:         client,
		hooks:          hookMgr,
		sessionID:      sessionID,
		serverIDs:      serverIDs,
		toolFilter:     toolFilter,
		maskingService: maskingService,
	}
}

// ForStage returns a copy of the executor bound to a stage execution.
// The copy shares the underlying client and allow-lists.
func (e *ToolExecutor) ForStage(stageExecutionID string) *ToolExecutor {
	stageExec := *e
	stageExec.stageExecutionID = &stageExecutionID
	return &stageExec
}

// WithResultBudget returns a copy of the executor that caps tool result
// content at maxTokens before it reaches the LLM. The budget comes from the
// resolved provider's max_tool_result_tokens; values <= 0 leave results
// uncapped.
func (e *ToolExecutor) WithResultBudget(maxTokens int) *ToolExecutor {
	capped := *e
	capped.maxResultTokens = maxTokens
	return &capped
}

// Execute runs a tool call via MCP.
//
// Flow:
//  1. Normalize tool name (server__tool → server.tool for NativeThinking)
//  2. Split and validate server.tool name against the allow-list
//  3. Parse Arguments string into map[string]any
//  4. Open an MCP call hook scope and call Client.CallTool
//  5. Apply data masking before the result is captured or returned
//  6. Complete the scope with a storage-truncated copy of the content
//  7. Cap the LLM copy at the provider's result token budget
//
// Rejected and failed calls never surface as Go errors: they return a
// structured error record as tool content so the LLM sees what went wrong.
// No hook scope is opened for calls the allow-list rejects.
func (e *ToolExecutor) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	name := NormalizeToolName(call.Name)

	serverID, toolName, err := e.resolveToolCall(name)
	if err != nil {
		return e.errorResult(call, err), nil
	}

	params, err := ParseActionInput(call.Arguments)
	if err != nil {
		return e.errorResult(call, fmt.Errorf("failed to parse tool arguments: %w", err)), nil
	}

	scope := e.hooks.NewMCPCallScope(e.sessionID, e.stageExecutionID, serverID, toolName, params,
		fmt.Sprintf("Execute %s on %s", toolName, serverID))

	result, err := e.client.CallTool(ctx, serverID, toolName, params)
	if err != nil {
		scope.Finish(ctx, err)
		return e.errorResult(call, fmt.Errorf("MCP tool execution failed: %w", err)), nil
	}

	content := extractTextContent(result)
	if e.maskingService != nil {
		content = e.maskingService.MaskToolResult(content, serverID)
	}

	// Masking happens before either cut. The stored copy is capped at the
	// storage limit; the LLM copy is capped at the provider's result budget.
	scope.CompleteSuccess(map[string]any{
		"content":  TruncateForStorage(content),
		"is_error": result.IsError,
	})
	scope.Finish(ctx, nil)

	if e.maxResultTokens > 0 {
		content = TruncateForBudget(content, e.maxResultTokens)
	}

	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
		IsError: result.IsError,
	}, nil
}

// ExecuteBatch runs tool calls in order and groups the results by server name.
// Calls that cannot be routed to a server are grouped under "unknown".
// Concurrent fan-out belongs to the stage executor, not here.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, calls []agent.ToolCall) map[string][]*agent.ToolResult {
	results := make(map[string][]*agent.ToolResult, len(calls))
	for _, call := range calls {
		serverID, _, err := SplitToolName(NormalizeToolName(call.Name))
		if err != nil {
			serverID = "unknown"
		}
		result, execErr := e.Execute(ctx, call)
		if execErr != nil {
			result = e.errorResult(call, execErr)
		}
		results[serverID] = append(results[serverID], result)
	}
	return results
}

// ListTools returns all available tools from configured MCP servers.
// Tools are returned with server-prefixed names (e.g., "kubernetes-server.get_pods").
// Each server's listing runs inside a tool-list hook scope, and the captured
// list is filtered through the allow-list first so it matches what the LLM sees.
func (e *ToolExecutor) ListTools(ctx context.Context) ([]agent.ToolDefinition, error) {
	var allTools []agent.ToolDefinition

	for _, serverID := range e.serverIDs {
		scope := e.hooks.NewMCPListScope(e.sessionID, e.stageExecutionID, serverID,
			fmt.Sprintf("List tools on %s", serverID))

		tools, err := e.client.ListTools(ctx, serverID)
		if err != nil {
			scope.Finish(ctx, err)
			// Log error but continue — partial tools are better than none
			slog.Warn("Failed to list tools from MCP server",
				"server", serverID, "error", err)
			continue
		}

		tools = e.filterTools(serverID, tools)

		infos := make([]models.MCPToolInfo, 0, len(tools))
		for _, tool := range tools {
			infos = append(infos, models.MCPToolInfo{
				Name:        tool.Name,
				Description: tool.Description,
			})
		}
		scope.CompleteSuccess(infos)
		scope.Finish(ctx, nil)

		for _, tool := range tools {
			allTools = append(allTools, agent.ToolDefinition{
				Name:             fmt.Sprintf("%s.%s", serverID, tool.Name),
				Description:      tool.Description,
				ParametersSchema: marshalSchema(tool.InputSchema),
			})
		}
	}

	if len(allTools) == 0 {
		return nil, nil // Consistent with StubToolExecutor contract
	}
	return allTools, nil
}

// Close releases resources (MCP transports, subprocesses).
func (e *ToolExecutor) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// errorResult wraps err in a structured error record returned as tool content.
func (e *ToolExecutor) errorResult(call agent.ToolCall, err error) *agent.ToolResult {
	record := toolErrorRecord{
		Tool:      call.Name,
		Error:     err.Error(),
		ErrorType: errorTypeToolExecutionFailure,
	}
	content, marshalErr := json.Marshal(record)
	if marshalErr != nil {
		content = []byte(err.Error())
	}
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: string(content),
		IsError: true,
	}
}

// resolveToolCall validates a tool call against the executor's configuration.
func (e *ToolExecutor) resolveToolCall(name string) (serverID, toolName string, err error) {
	serverID, toolName, err = SplitToolName(name)
	if err != nil {
		return "", "", err
	}

	// Check server is in allowed list
	if !slices.Contains(e.serverIDs, serverID) {
		return "", "", fmt.Errorf(
			"MCP server %q is not available for this execution. "+
				"Available servers: %s", serverID, strings.Join(e.serverIDs, ", "))
	}

	// Check tool filter (per-session MCP selection)
	if filter, ok := e.toolFilter[serverID]; ok && len(filter) > 0 {
		if !slices.Contains(filter, toolName) {
			return "", "", fmt.Errorf(
				"tool %q is not available on server %q. "+
					"Available tools: %s", toolName, serverID, strings.Join(filter, ", "))
		}
	}

	return serverID, toolName, nil
}

// filterTools applies the per-server tool allow-list to a listing.
func (e *ToolExecutor) filterTools(serverID string, tools []*mcpsdk.Tool) []*mcpsdk.Tool {
	filter, ok := e.toolFilter[serverID]
	if !ok || len(filter) == 0 {
		return tools
	}
	filtered := make([]*mcpsdk.Tool, 0, len(tools))
	for _, tool := range tools {
		if slices.Contains(filter, tool.Name) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// extractTextContent extracts text from MCP CallToolResult.
// Concatenates all TextContent items. Non-text content (images, embedded
// resources) is logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's InputSchema to a JSON string.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}
