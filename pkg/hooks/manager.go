package hooks

import (
	"context"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// Manager is the process-wide hook fabric. It keeps one registry per
// interaction kind; tool-call and tool-list records fan out to separate
// registries because their consumers differ (tool lists are catalogue
// snapshots, not execution records).
type Manager struct {
	llmHooks     registry[*models.LLMInteraction]
	mcpCallHooks registry[*models.MCPInteraction]
	mcpListHooks registry[*models.MCPInteraction]
	stageHooks   registry[*models.StageExecution]

	// maxMessageContentSize caps individual user-message content before LLM
	// records leave the fabric. Zero disables truncation.
	maxMessageContentSize int
}

// NewManager creates a hook manager. maxMessageContentSize is the per-user-
// message content cap applied before LLM hooks fire.
func NewManager(maxMessageContentSize int) *Manager {
	return &Manager{maxMessageContentSize: maxMessageContentSize}
}

// RegisterLLMHook adds a captor for LLM interactions.
func (m *Manager) RegisterLLMHook(h Hook[*models.LLMInteraction]) {
	m.llmHooks.register(h)
}

// RegisterMCPCallHook adds a captor for tool-call interactions.
func (m *Manager) RegisterMCPCallHook(h Hook[*models.MCPInteraction]) {
	m.mcpCallHooks.register(h)
}

// RegisterMCPListHook adds a captor for tool-list interactions.
func (m *Manager) RegisterMCPListHook(h Hook[*models.MCPInteraction]) {
	m.mcpListHooks.register(h)
}

// RegisterStageHook adds a captor for stage-execution transitions.
func (m *Manager) RegisterStageHook(h Hook[*models.StageExecution]) {
	m.stageHooks.register(h)
}

// TriggerLLMHooks fans one LLM interaction out to all LLM hooks. Oversized
// user messages are truncated on a copy first; the caller's conversation is
// never mutated.
func (m *Manager) TriggerLLMHooks(ctx context.Context, interaction *models.LLMInteraction) map[string]bool {
	return m.llmHooks.trigger(ctx, truncateUserMessages(interaction, m.maxMessageContentSize))
}

// TriggerMCPCallHooks fans one tool-call interaction out to all tool-call hooks.
func (m *Manager) TriggerMCPCallHooks(ctx context.Context, interaction *models.MCPInteraction) map[string]bool {
	return m.mcpCallHooks.trigger(ctx, interaction)
}

// TriggerMCPListHooks fans one tool-list interaction out to all tool-list hooks.
func (m *Manager) TriggerMCPListHooks(ctx context.Context, interaction *models.MCPInteraction) map[string]bool {
	return m.mcpListHooks.trigger(ctx, interaction)
}

// TriggerStageHooks fans one stage-execution record out to all stage hooks.
func (m *Manager) TriggerStageHooks(ctx context.Context, execution *models.StageExecution) map[string]bool {
	return m.stageHooks.trigger(ctx, execution)
}
