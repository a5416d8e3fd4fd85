package queue

import (
	"context"
	"log/slog"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// StubExecutor is a no-op SessionExecutor. It completes every session
// without running agents, which is enough to exercise the queue, worker,
// and lifecycle plumbing in tests and local smoke setups.
type StubExecutor struct{}

// NewStubExecutor creates a new stub executor.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{}
}

// Execute returns a completed result immediately, or cancelled if the
// session context is already dead.
func (e *StubExecutor) Execute(ctx context.Context, session *ent.AlertSession) *ExecutionResult {
	sessionID := ""
	chainID := ""
	alertType := ""
	if session != nil {
		sessionID = session.ID
		chainID = session.ChainID
		alertType = session.AlertType
	}
	slog.Info("Stub executor: session processing (no-op)",
		"session_id", sessionID,
		"chain_id", chainID,
		"alert_type", alertType,
	)

	if ctx.Err() != nil {
		return &ExecutionResult{
			Status: models.SessionStatusCancelled,
			Error:  ctx.Err(),
		}
	}

	return &ExecutionResult{
		Status:           models.SessionStatusCompleted,
		FinalAnalysis:    "Stub executor: no agent execution performed",
		ExecutiveSummary: "Stub execution completed successfully",
	}
}
