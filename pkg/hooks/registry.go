package hooks

import (
	"context"
	"time"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// hookWriteTimeout bounds history writes fired from hooks.
const hookWriteTimeout = 10 * time.Second

// HistoryStore is the slice of the history facade the capture hooks use.
type HistoryStore interface {
	StoreLLMInteraction(ctx context.Context, interaction *models.LLMInteraction) (bool, error)
	StoreMCPInteraction(ctx context.Context, interaction *models.MCPInteraction) (bool, error)
	CreateStageExecution(ctx context.Context, execution *models.StageExecution) (string, error)
	UpdateStageExecution(ctx context.Context, execution *models.StageExecution) (bool, error)
}

// EventPublisher is the slice of the event publisher the broadcast hooks
// use.
type EventPublisher interface {
	PublishLLMInteraction(interaction *models.LLMInteraction) error
	PublishMCPInteraction(interaction *models.MCPInteraction) error
	PublishMCPToolList(interaction *models.MCPInteraction) error
	PublishStageStarted(execution *models.StageExecution) error
	PublishStageCompleted(execution *models.StageExecution) error
}

// RegisterDefaultHooks binds the standard capture pipeline to a manager:
// history persistence and event broadcast for every interaction kind.
// Either binding may be nil to skip it.
func RegisterDefaultHooks(manager *Manager, store HistoryStore, publisher EventPublisher) {
	if store != nil {
		manager.RegisterLLMHook(&historyLLMHook{store: store})
		manager.RegisterMCPCallHook(&historyMCPCallHook{store: store})
		manager.RegisterMCPListHook(&historyMCPListHook{store: store})
		manager.RegisterStageHook(&historyStageHook{store: store})
	}
	if publisher != nil {
		manager.RegisterLLMHook(&broadcastLLMHook{publisher: publisher})
		manager.RegisterMCPCallHook(&broadcastMCPCallHook{publisher: publisher})
		manager.RegisterMCPListHook(&broadcastMCPListHook{publisher: publisher})
		manager.RegisterStageHook(&broadcastStageHook{publisher: publisher})
	}
}

// detachedContext severs the caller's cancellation while keeping its values
// so a capture still lands while a session is being torn down.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), hookWriteTimeout)
}

type historyLLMHook struct {
	store HistoryStore
}

func (h *historyLLMHook) Name() string { return "history.llm_interaction" }

func (h *historyLLMHook) Execute(ctx context.Context, interaction *models.LLMInteraction) error {
	writeCtx, cancel := detachedContext(ctx)
	defer cancel()
	_, err := h.store.StoreLLMInteraction(writeCtx, interaction)
	return err
}

type historyMCPCallHook struct {
	store HistoryStore
}

func (h *historyMCPCallHook) Name() string { return "history.mcp_interaction" }

func (h *historyMCPCallHook) Execute(ctx context.Context, interaction *models.MCPInteraction) error {
	writeCtx, cancel := detachedContext(ctx)
	defer cancel()
	_, err := h.store.StoreMCPInteraction(writeCtx, interaction)
	return err
}

type historyMCPListHook struct {
	store HistoryStore
}

func (h *historyMCPListHook) Name() string { return "history.mcp_tool_list" }

func (h *historyMCPListHook) Execute(ctx context.Context, interaction *models.MCPInteraction) error {
	writeCtx, cancel := detachedContext(ctx)
	defer cancel()
	_, err := h.store.StoreMCPInteraction(writeCtx, interaction)
	return err
}

// historyStageHook persists stage rows. Rows without a start stamp do not
// exist yet, so they are created; anything else is an update to the
// identity-stable row. Executors assign execution ids before the first
// trigger, so the id returned by create always matches the row.
type historyStageHook struct {
	store HistoryStore
}

func (h *historyStageHook) Name() string { return "history.stage_execution" }

func (h *historyStageHook) Execute(ctx context.Context, execution *models.StageExecution) error {
	writeCtx, cancel := detachedContext(ctx)
	defer cancel()
	if execution.StartedAtUS == nil {
		_, err := h.store.CreateStageExecution(writeCtx, execution)
		return err
	}
	_, err := h.store.UpdateStageExecution(writeCtx, execution)
	return err
}

type broadcastLLMHook struct {
	publisher EventPublisher
}

func (h *broadcastLLMHook) Name() string { return "broadcast.llm_interaction" }

func (h *broadcastLLMHook) Execute(_ context.Context, interaction *models.LLMInteraction) error {
	return h.publisher.PublishLLMInteraction(interaction)
}

type broadcastMCPCallHook struct {
	publisher EventPublisher
}

func (h *broadcastMCPCallHook) Name() string { return "broadcast.mcp_interaction" }

func (h *broadcastMCPCallHook) Execute(_ context.Context, interaction *models.MCPInteraction) error {
	return h.publisher.PublishMCPInteraction(interaction)
}

type broadcastMCPListHook struct {
	publisher EventPublisher
}

func (h *broadcastMCPListHook) Name() string { return "broadcast.mcp_tool_list" }

func (h *broadcastMCPListHook) Execute(_ context.Context, interaction *models.MCPInteraction) error {
	return h.publisher.PublishMCPToolList(interaction)
}

// broadcastStageHook announces stage transitions. Pending creation and
// pause bookkeeping stay silent; those are announced at the session level.
type broadcastStageHook struct {
	publisher EventPublisher
}

func (h *broadcastStageHook) Name() string { return "broadcast.stage_execution" }

func (h *broadcastStageHook) Execute(_ context.Context, execution *models.StageExecution) error {
	switch {
	case execution.CompletedAtUS != nil:
		return h.publisher.PublishStageCompleted(execution)
	case execution.Status == models.StageStatusActive:
		return h.publisher.PublishStageStarted(execution)
	default:
		return nil
	}
}
