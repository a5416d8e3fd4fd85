package agent

import (
	"time"

	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// ExecutionContext carries all dependencies and state needed by an agent
// during execution. Created by the session executor for each agent run.
type ExecutionContext struct {
	// Identity
	SessionID   string
	StageID     string
	ExecutionID string
	AgentName   string
	AgentIndex  int

	// Alert data (pulled from the session by the executor).
	// Arbitrary text — not parsed, not assumed to be JSON.
	AlertData string

	// Alert type (from session/chain config)
	AlertType string

	// Runbook content (fetched by executor, passed as text)
	RunbookContent string

	// PrevStageContext is the formatted output of the previous stages
	// (empty for the first stage). Built by stagectx.BuildStageContext.
	PrevStageContext string

	// Configuration (resolved from hierarchy)
	Config *ResolvedAgentConfig

	// Dependencies (injected by executor)
	LLMClient    LLMClient
	ToolExecutor ToolExecutor

	// Hooks captures every LLM call made during execution. Must not be nil;
	// a manager with no registered hooks disables capture.
	Hooks *hooks.Manager

	// Stream delivers partial LLM output to live subscribers.
	// nil disables streaming (ENABLE_LLM_STREAMING off).
	Stream StreamPublisher

	// Prompt builder (injected by executor, stateless, shared across executions).
	// Implemented by prompt.Builder; interface avoids agent↔prompt import cycle.
	PromptBuilder PromptBuilder

	// Chat context (nil for non-chat executions). Presence marks a
	// chat-context stage, which always force-concludes at budget exhaustion.
	ChatContext *ChatContext

	// FailedServers maps serverID → error message for MCP servers that
	// failed to initialize. Used by the prompt builder to warn the LLM.
	// nil when all servers initialized successfully.
	FailedServers map[string]string
}

// ResolvedAgentConfig is the fully-resolved configuration for an agent execution.
// All hierarchy levels (defaults → agent definition → stage → stage-agent)
// have been applied.
type ResolvedAgentConfig struct {
	AgentName          string
	IterationStrategy  config.IterationStrategy // Determines controller selection
	Backend            string                   // SDK path, sent as-is to the LLM service
	LLMProvider        *config.LLMProviderConfig
	LLMProviderName    string // The resolved provider key (for capture records)
	MaxIterations      int
	IterationTimeout   time.Duration // Per-LLM-call timeout (default: 120s)
	ForceConclusion    bool          // One extra conclusion call at budget exhaustion
	MCPServers         []string
	CustomInstructions string
}

// PromptBuilder builds all prompt text for agent controllers.
// Implemented by prompt.Builder; defined as interface here to
// avoid a circular import between pkg/agent and pkg/agent/prompt.
type PromptBuilder interface {
	BuildReActMessages(execCtx *ExecutionContext, tools []ToolDefinition) []models.ConversationMessage
	BuildNativeThinkingMessages(execCtx *ExecutionContext) []models.ConversationMessage
	BuildSynthesisMessages(execCtx *ExecutionContext) []models.ConversationMessage
	BuildForcedConclusionPrompt(iteration int, strategy config.IterationStrategy) string
	BuildExecutiveSummarySystemPrompt() string
	BuildExecutiveSummaryUserPrompt(finalAnalysis string) string
}

// StreamPublisher delivers partial LLM output to WebSocket subscribers.
// Implemented by events.Publisher; defined as interface here to avoid a
// circular import between pkg/agent and pkg/events and to enable testing
// with fakes.
type StreamPublisher interface {
	PublishLLMStreamChunk(sessionID, interactionID string, stageExecutionID *string, chunkType, delta, streamStatus string) error
}

// ChatContext carries chat-specific data for controllers.
type ChatContext struct {
	UserQuestion         string
	InvestigationContext string

	// ChatHistory holds completed exchanges from earlier chat stages of the
	// same session, oldest first. Empty for the first chat question.
	ChatHistory []ChatExchange
}

// ChatExchange is one completed question/answer round from an earlier chat
// stage, replayed into the next chat prompt.
type ChatExchange struct {
	UserQuestion string
	Messages     []models.ConversationMessage
}
