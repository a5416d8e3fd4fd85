package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

type mockLLMResponse struct {
	chunks []agent.Chunk
	err    error
}

// mockLLMClient is a test mock for agent.LLMClient.
// NOTE: Not safe for concurrent use — callCount and lastInput are mutated
// without synchronization. This is fine as long as controllers call Generate
// sequentially (which they currently do).
type mockLLMClient struct {
	responses []mockLLMResponse
	callCount int
	lastInput *agent.GenerateInput

	// capture enables recording all inputs across calls (not just the last one).
	capture        bool
	capturedInputs []*agent.GenerateInput

	// onGenerate is called before processing the response, allowing tests to
	// perform side-effects (e.g. cancel a context) at call time.
	onGenerate func(callIndex int)
}

func (m *mockLLMClient) Generate(_ context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	idx := m.callCount
	m.callCount++
	m.lastInput = input
	if m.capture {
		m.capturedInputs = append(m.capturedInputs, input)
	}
	if m.onGenerate != nil {
		m.onGenerate(idx)
	}

	if idx >= len(m.responses) {
		return nil, fmt.Errorf("no more mock responses (call %d)", idx+1)
	}

	r := m.responses[idx]
	if r.err != nil {
		return nil, r.err
	}

	ch := make(chan agent.Chunk, len(r.chunks))
	for _, c := range r.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *mockLLMClient) Close() error { return nil }

// textResponse builds a mock response that streams text and usage.
func textResponse(text string) mockLLMResponse {
	return mockLLMResponse{chunks: []agent.Chunk{
		&agent.TextChunk{Content: text},
		&agent.UsageChunk{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}}
}

// mockToolExecutor is a test mock for agent.ToolExecutor.
type mockToolExecutor struct {
	tools   []agent.ToolDefinition
	results map[string]*agent.ToolResult
}

func (m *mockToolExecutor) Execute(_ context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	result, ok := m.results[call.Name]
	if !ok {
		return nil, fmt.Errorf("unexpected tool call: %s", call.Name)
	}
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: result.Content,
		IsError: result.IsError,
	}, nil
}

func (m *mockToolExecutor) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	return m.tools, nil
}

func (m *mockToolExecutor) Close() error { return nil }

// mockToolExecutorFunc is a flexible test mock that allows custom execute functions.
type mockToolExecutorFunc struct {
	tools     []agent.ToolDefinition
	executeFn func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error)
}

func (m *mockToolExecutorFunc) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	return m.executeFn(ctx, call)
}

func (m *mockToolExecutorFunc) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	return m.tools, nil
}

func (m *mockToolExecutorFunc) Close() error { return nil }

// recordingLLMHook collects every LLM interaction fired through the hook
// manager so tests can assert on capture records.
type recordingLLMHook struct {
	mu           sync.Mutex
	interactions []*models.LLMInteraction
}

func (h *recordingLLMHook) Name() string { return "recording-llm" }

func (h *recordingLLMHook) Execute(_ context.Context, interaction *models.LLMInteraction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interactions = append(h.interactions, interaction)
	return nil
}

func (h *recordingLLMHook) all() []*models.LLMInteraction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*models.LLMInteraction(nil), h.interactions...)
}

type recordedChunk struct {
	interactionID string
	chunkType     string
	delta         string
	status        string
}

// recordingStream implements agent.StreamPublisher for tests.
type recordingStream struct {
	mu     sync.Mutex
	chunks []recordedChunk
}

func (r *recordingStream) PublishLLMStreamChunk(_, interactionID string, _ *string, chunkType, delta, streamStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, recordedChunk{interactionID, chunkType, delta, streamStatus})
	return nil
}

func (r *recordingStream) all() []recordedChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedChunk(nil), r.chunks...)
}

// stubPromptBuilder produces fixed, minimal prompts so controller tests
// assert on loop behavior, not prompt text.
type stubPromptBuilder struct{}

func (stubPromptBuilder) BuildReActMessages(execCtx *agent.ExecutionContext, _ []agent.ToolDefinition) []models.ConversationMessage {
	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: "You are a test agent."},
		{Role: models.RoleUser, Content: "Investigate: " + execCtx.AlertData},
	}
}

func (stubPromptBuilder) BuildNativeThinkingMessages(execCtx *agent.ExecutionContext) []models.ConversationMessage {
	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: "You are a test agent."},
		{Role: models.RoleUser, Content: "Investigate: " + execCtx.AlertData},
	}
}

func (stubPromptBuilder) BuildSynthesisMessages(execCtx *agent.ExecutionContext) []models.ConversationMessage {
	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: "You are a synthesis agent."},
		{Role: models.RoleUser, Content: "Synthesize: " + execCtx.PrevStageContext},
	}
}

func (stubPromptBuilder) BuildForcedConclusionPrompt(iteration int, _ config.IterationStrategy) string {
	return fmt.Sprintf("Provide your final answer now (stopped after %d iterations).", iteration)
}

func (stubPromptBuilder) BuildExecutiveSummarySystemPrompt() string {
	return "You write executive summaries."
}

func (stubPromptBuilder) BuildExecutiveSummaryUserPrompt(finalAnalysis string) string {
	return "Summarize: " + finalAnalysis
}

// newTestExecCtx creates an in-memory test ExecutionContext. Capture flows
// through a hook manager with no registered hooks unless the test registers
// a recording hook on execCtx.Hooks.
// Defaults: MaxIterations=20, IterationTimeout=120s, no forced conclusion.
func newTestExecCtx(t *testing.T, llm agent.LLMClient, toolExec agent.ToolExecutor) *agent.ExecutionContext {
	t.Helper()

	return &agent.ExecutionContext{
		SessionID:   uuid.New().String(),
		StageID:     uuid.New().String(),
		ExecutionID: uuid.New().String(),
		AgentName:   "test-agent",
		AgentIndex:  0,
		AlertData:   "Test alert: CPU high on prod-server-1",
		AlertType:   "test-alert",
		Config: &agent.ResolvedAgentConfig{
			AgentName:          "test-agent",
			IterationStrategy:  config.IterationStrategyReact,
			Backend:            agent.BackendLangChain,
			LLMProvider:        &config.LLMProviderConfig{Name: "test-provider", Model: "test-model"},
			LLMProviderName:    "test-provider",
			MaxIterations:      20,
			IterationTimeout:   120 * time.Second,
			CustomInstructions: "You are a test agent.",
		},
		LLMClient:     llm,
		ToolExecutor:  toolExec,
		Hooks:         hooks.NewManager(0),
		PromptBuilder: stubPromptBuilder{},
	}
}
