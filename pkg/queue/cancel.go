package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/cancellation"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/events"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

var (
	// ErrSessionFinished reports an action aimed at a session already in a
	// terminal state.
	ErrSessionFinished = errors.New("session already finished")

	// ErrSessionNotPaused reports a resume or per-agent cancellation aimed
	// at a session that is not paused.
	ErrSessionNotPaused = errors.New("session is not paused")

	// ErrAgentNotPaused reports a per-agent cancellation aimed at a child
	// execution that is not paused.
	ErrAgentNotPaused = errors.New("agent execution is not paused")

	// ErrHistoryUnavailable reports that the history store is not reachable,
	// so state-changing session APIs cannot proceed safely.
	ErrHistoryUnavailable = errors.New("history store unavailable")

	// ErrParallelPaused rejects chat resumption of a session parked on a
	// parallel stage; those resume through per-agent cancellation.
	ErrParallelPaused = errors.New("session is paused on a parallel stage; resume it by cancelling agents")
)

// ────────────────────────────────────────────────────────────
// Session-level cancellation
// ────────────────────────────────────────────────────────────

// CancelSession requests cancellation of a session in any non-terminal
// state. Active sessions are interrupted through their context and finalized
// by the owning worker; queued or paused sessions have no worker, so their
// terminal state lands here directly.
func (m *Manager) CancelSession(ctx context.Context, sessionID string) error {
	m.tracker.Mark(sessionID, cancellation.CauseUserCancel)

	if m.cancelActive(sessionID) {
		slog.Info("Cancelled active session", "session_id", sessionID)
		return nil
	}

	// No worker owns this session, so nothing else clears the mark.
	defer m.tracker.Clear(sessionID)

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if models.SessionStatus(session.Status).IsTerminal() {
		return ErrSessionFinished
	}

	msg := "session cancelled by user"
	if _, err := m.store.UpdateSessionStatus(ctx, sessionID, models.SessionStatusCancelled, &msg, nil); err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}
	m.publishStatus(sessionID, models.SessionStatusCancelled, &msg)
	slog.Info("Cancelled inactive session",
		"session_id", sessionID,
		"previous_status", session.Status,
	)
	return nil
}

// ────────────────────────────────────────────────────────────
// Per-agent cancellation
// ────────────────────────────────────────────────────────────

// CancelAgent cancels one paused child of a parallel stage and recomputes
// the stage aggregate, which either keeps the session paused, completes the
// stage and resumes the chain, or finishes the session.
func (m *Manager) CancelAgent(ctx context.Context, sessionID, executionID string) error {
	if !m.store.Active() {
		return ErrHistoryUnavailable
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch status := models.SessionStatus(session.Status); {
	case status.IsTerminal():
		return ErrSessionFinished
	case status != models.SessionStatusPaused:
		return ErrSessionNotPaused
	}

	child, err := m.store.GetStageExecution(ctx, executionID)
	if err != nil {
		return err
	}
	switch {
	case child.SessionID != sessionID:
		return fmt.Errorf("stage execution %s does not belong to session %s", executionID, sessionID)
	case child.ParentStageExecutionID == nil:
		return fmt.Errorf("stage execution %s is not part of a parallel stage", executionID)
	case child.Status != models.StageStatusPaused:
		return ErrAgentNotPaused
	}

	// Finalize the child. completed_at_us inherits the pause stamp so the
	// recorded duration covers only the time the agent actually ran.
	completedAt := models.NowUS()
	if child.PausedAtUS != nil {
		completedAt = *child.PausedAtUS
	}
	msg := "Cancelled by user"
	child.Status = models.StageStatusCancelled
	child.ErrorMessage = &msg
	child.CompletedAtUS = &completedAt
	if child.StartedAtUS != nil {
		duration := models.DurationMSFrom(*child.StartedAtUS, completedAt)
		child.DurationMS = &duration
	}
	if _, err := m.store.UpdateStageExecution(ctx, child); err != nil {
		return fmt.Errorf("failed to cancel agent execution: %w", err)
	}
	slog.Info("Cancelled parallel agent",
		"session_id", sessionID,
		"execution_id", executionID,
		"agent", child.Agent,
	)

	return m.settleParallelStage(ctx, session, child)
}

// settleParallelStage recomputes a paused parallel stage's aggregate after
// one of its children was cancelled, and moves the session accordingly.
func (m *Manager) settleParallelStage(ctx context.Context, session *ent.AlertSession, child *models.StageExecution) error {
	parent, err := m.store.GetStageExecution(ctx, *child.ParentStageExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load parent stage execution: %w", err)
	}
	siblings, err := m.store.GetParallelStageChildren(ctx, parent.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load sibling executions: %w", err)
	}

	prior, err := models.StageOutputFromMap(parent.StageOutput)
	if err != nil {
		return fmt.Errorf("failed to decode parent stage output: %w", err)
	}
	if prior == nil || prior.Parallel == nil {
		return fmt.Errorf("parent stage execution %s has no aggregation record", parent.ExecutionID)
	}

	results := childResultsFromRows(siblings)
	policy := config.SuccessPolicy(prior.Parallel.Metadata.SuccessPolicy)
	aggregate := aggregateStatus(results, policy)
	slog.Info("Recomputed parallel stage aggregate",
		"session_id", session.ID,
		"parent_execution_id", parent.ExecutionID,
		"aggregate_status", aggregate,
		"success_policy", policy,
	)

	m.publishLifecycle(events.EventTypeAgentCancelled, session.ID,
		fmt.Sprintf("Agent '%s' cancelled by user", child.Agent))

	if aggregate == models.StageStatusPaused {
		// Other agents are still paused; the session stays parked.
		return nil
	}

	rebuilt := rebuildParallelOutput(prior.Parallel, results, siblings)

	if aggregate == models.StageStatusCompleted {
		if err := m.finalizeParentRow(ctx, parent, models.StageStatusCompleted, nil, rebuilt); err != nil {
			return err
		}
		// The worker resuming the chain expects an in_progress session;
		// resume paths transition before enqueueing.
		if _, err := m.store.UpdateSessionStatus(ctx, session.ID, models.SessionStatusInProgress, nil, nil); err != nil {
			return fmt.Errorf("failed to resume session: %w", err)
		}
		m.publishStatus(session.ID, models.SessionStatusInProgress, nil)
		m.publishLifecycle(events.EventTypeSessionResumed, session.ID,
			fmt.Sprintf("Parallel stage '%s' completed after agent cancellation", parent.StageName))
		if err := m.Enqueue(session.ID); err != nil {
			return fmt.Errorf("failed to enqueue resumed session: %w", err)
		}
		return nil
	}

	// Aggregate failed: the stage is over. Whether the session counts as
	// cancelled or failed depends on whether any child actually failed.
	stageErr := errors.New(parallelFailureMessage(parent.StageName, results))
	if err := m.finalizeParentRow(ctx, parent, models.StageStatusFailed, stageErr, rebuilt); err != nil {
		return err
	}

	sessionStatus := models.SessionStatusFailed
	lifecycle := events.EventTypeSessionFailed
	if allNonSuccessCancelled(results) {
		sessionStatus = models.SessionStatusCancelled
		lifecycle = events.EventTypeSessionCancelled
	}
	msg := stageErr.Error()
	if _, err := m.store.UpdateSessionStatus(ctx, session.ID, sessionStatus, &msg, nil); err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	m.publishStatus(session.ID, sessionStatus, &msg)
	m.publishLifecycle(lifecycle, session.ID, msg)
	return nil
}

// finalizeParentRow writes a retroactive terminal state to a parallel
// stage's parent row, replacing the aggregation record it carried while
// paused.
func (m *Manager) finalizeParentRow(
	ctx context.Context,
	parent *models.StageExecution,
	status models.StageStatus,
	stageErr error,
	result *models.ParallelStageResult,
) error {
	now := models.NowUS()
	parent.Status = status
	result.Status = status
	result.TimestampUS = now
	result.Metadata.CompletedAtUS = now

	if stageErr != nil {
		msg := stageErr.Error()
		parent.ErrorMessage = &msg
	}
	parent.CompletedAtUS = &now
	if parent.StartedAtUS != nil {
		duration := models.DurationMSFrom(*parent.StartedAtUS, now)
		parent.DurationMS = &duration
	}

	out := models.StageOutput{Parallel: result}
	if mp, err := out.AsMap(); err == nil {
		parent.StageOutput = mp
	}
	if _, err := m.store.UpdateStageExecution(ctx, parent); err != nil {
		return fmt.Errorf("failed to finalize parent stage execution: %w", err)
	}
	return nil
}

// childResultsFromRows projects persisted child rows into per-agent results,
// recovering each completed child's summary from its stored output.
func childResultsFromRows(siblings []models.StageExecution) []models.AgentExecutionResult {
	results := make([]models.AgentExecutionResult, len(siblings))
	for i := range siblings {
		row := &siblings[i]
		r := models.AgentExecutionResult{
			Status:       row.Status,
			AgentName:    row.Agent,
			StageName:    row.StageName,
			ErrorMessage: row.ErrorMessage,
		}
		if row.CompletedAtUS != nil {
			r.TimestampUS = *row.CompletedAtUS
		} else if row.PausedAtUS != nil {
			r.TimestampUS = *row.PausedAtUS
		}
		if out, err := models.StageOutputFromMap(row.StageOutput); err == nil && out != nil && out.Agent != nil {
			r.ResultSummary = out.Agent.ResultSummary
		}
		results[i] = r
	}
	return results
}

// rebuildParallelOutput refreshes the aggregation record with the children's
// current states. Provider, strategy, and token telemetry carry over from
// the record written when the stage paused, matched by agent label.
func rebuildParallelOutput(
	prior *models.ParallelStageResult,
	results []models.AgentExecutionResult,
	siblings []models.StageExecution,
) *models.ParallelStageResult {
	agents := make([]models.AgentExecutionMetadata, len(siblings))
	used := make([]bool, len(prior.Metadata.Agents))
	for i := range siblings {
		meta := models.AgentExecutionMetadata{
			AgentName: siblings[i].Agent,
			Status:    siblings[i].Status,
			Error:     siblings[i].ErrorMessage,
		}
		for j, old := range prior.Metadata.Agents {
			if used[j] || old.AgentName != meta.AgentName {
				continue
			}
			meta.LLMProvider = old.LLMProvider
			meta.IterationStrategy = old.IterationStrategy
			meta.TokenUsage = old.TokenUsage
			used[j] = true
			break
		}
		agents[i] = meta
	}

	rebuilt := *prior
	rebuilt.Results = results
	rebuilt.Metadata.Agents = agents
	return &rebuilt
}

// ────────────────────────────────────────────────────────────
// Chat resumption
// ────────────────────────────────────────────────────────────

// ResumeChat appends a user chat message to a paused session and re-enqueues
// it. The session stays paused until a worker picks it up; a full queue
// therefore leaves its state untouched.
func (m *Manager) ResumeChat(ctx context.Context, sessionID, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("chat message is empty")
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch status := models.SessionStatus(session.Status); {
	case status.IsTerminal():
		return ErrSessionFinished
	case status != models.SessionStatusPaused:
		return ErrSessionNotPaused
	}

	// A session parked on a parallel stage has no single conversation to
	// reply into; it resumes through per-agent cancellation instead.
	if session.CurrentStageID != nil {
		row, err := m.store.GetStageExecution(ctx, *session.CurrentStageID)
		if err != nil {
			return fmt.Errorf("failed to load current stage execution: %w", err)
		}
		if out, err := models.StageOutputFromMap(row.StageOutput); err == nil && out != nil && out.Parallel != nil {
			return ErrParallelPaused
		}
	}

	chat, err := models.ChatContextFromMap(session.ChatContext)
	if err != nil {
		return fmt.Errorf("failed to parse chat context: %w", err)
	}
	if chat == nil {
		chat = &models.ChatContext{}
	}
	chat.Messages = append(chat.Messages, models.ChatMessage{
		Role:        models.RoleUser,
		Content:     message,
		TimestampUS: models.NowUS(),
	})
	if _, err := m.store.SetChatContext(ctx, sessionID, chat); err != nil {
		return fmt.Errorf("failed to store chat message: %w", err)
	}

	if err := m.Enqueue(sessionID); err != nil {
		return err
	}
	m.publishLifecycle(events.EventTypeSessionResumed, sessionID, "User replied to a paused chat stage")
	slog.Info("Session re-enqueued with chat reply", "session_id", sessionID)
	return nil
}

// ────────────────────────────────────────────────────────────
// Publish helpers
// ────────────────────────────────────────────────────────────

func (m *Manager) publishStatus(sessionID string, status models.SessionStatus, errMsg *string) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishSessionStatusChange(sessionID, string(status), errMsg); err != nil {
		slog.Warn("Failed to publish session status change",
			"session_id", sessionID,
			"status", status,
			"error", err,
		)
	}
}

func (m *Manager) publishLifecycle(eventType, sessionID, reason string) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishSessionLifecycle(eventType, sessionID, reason); err != nil {
		slog.Warn("Failed to publish session lifecycle event",
			"session_id", sessionID,
			"event_type", eventType,
			"error", err,
		)
	}
}
