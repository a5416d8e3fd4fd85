package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/ent/alertsession"
	"github.com/tarsy-bot/tarsy/ent/stageexecution"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// OrphanErrorMessage is written on sessions found non-terminal at startup.
const OrphanErrorMessage = "Backend was restarted - session terminated unexpectedly"

const defaultPageSize = 20
const maxPageSize = 100

// CreateSession creates a new alert session and returns its id.
//
// This is the one operation that never retries: a failed first attempt
// might still have committed, and a retry would create a duplicate session
// for the same alert.
func (s *Service) CreateSession(httpCtx context.Context, req models.CreateSessionRequest) (string, error) {
	if !s.Active() {
		s.skip("create_session")
		return "", nil
	}
	if req.AlertID == "" {
		return "", NewValidationError("alert_id", "required")
	}
	if req.AlertData == nil {
		return "", NewValidationError("alert_data", "required")
	}
	if req.AgentType == "" {
		return "", NewValidationError("agent_type", "required")
	}

	// Critical write: survive caller disconnects but stay bounded.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionID := uuid.New().String()
	builder := s.client.AlertSession.Create().
		SetID(sessionID).
		SetAlertID(req.AlertID).
		SetAlertData(req.AlertData).
		SetAgentType(req.AgentType).
		SetStatus(alertsession.StatusPending).
		SetStartedAtUs(models.NowUS())

	if req.AlertType != "" {
		builder.SetAlertType(req.AlertType)
	}
	if req.ChainID != "" {
		builder.SetChainID(req.ChainID)
	}
	if req.ChainDefinition != nil {
		builder.SetChainDefinition(req.ChainDefinition)
	}
	if req.MCPSelection != nil {
		selection, err := toJSONMap(req.MCPSelection)
		if err != nil {
			return "", fmt.Errorf("failed to encode mcp_selection: %w", err)
		}
		builder.SetMcpSelection(selection)
	}

	if _, err := builder.Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			return "", ErrAlreadyExists
		}
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// UpdateSessionStatus transitions a session's status. Terminal statuses are
// sticky: once a session is completed, failed, cancelled, or timed out, any
// write requesting a different status is ignored. Terminal statuses set
// completed_at_us exactly once; error and final analysis are recorded when
// provided. Returns false when the store is inactive or the write was skipped.
func (s *Service) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage, finalAnalysis *string) (bool, error) {
	if !s.Active() {
		s.skip("update_session_status")
		return false, nil
	}

	written := false
	err := s.withRetry(ctx, "update_session_status", func(ctx context.Context) error {
		current, err := s.client.AlertSession.Query().
			Where(alertsession.IDEQ(sessionID)).
			Only(ctx)
		if err != nil {
			if ent.IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load session: %w", err)
		}

		if cur := models.SessionStatus(current.Status); cur.IsTerminal() && cur != status {
			slog.Warn("Ignoring status write for terminal session",
				"session_id", sessionID,
				"current_status", cur,
				"requested_status", status)
			return nil
		}

		update := s.client.AlertSession.UpdateOneID(sessionID).
			SetStatus(alertsession.Status(status))
		if status.IsTerminal() && current.CompletedAtUs == nil {
			update.SetCompletedAtUs(models.NowUS())
		}
		if errorMessage != nil {
			update.SetErrorMessage(*errorMessage)
		}
		if finalAnalysis != nil {
			update.SetFinalAnalysis(*finalAnalysis)
		}
		if err := update.Exec(ctx); err != nil {
			if ent.IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to update session status: %w", err)
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

// SetCurrentStage records chain progress on the session row.
func (s *Service) SetCurrentStage(ctx context.Context, sessionID string, stageIndex int, stageID string) (bool, error) {
	if !s.Active() {
		s.skip("set_current_stage")
		return false, nil
	}

	err := s.withRetry(ctx, "set_current_stage", func(ctx context.Context) error {
		err := s.client.AlertSession.UpdateOneID(sessionID).
			SetCurrentStageIndex(stageIndex).
			SetCurrentStageID(stageID).
			Exec(ctx)
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetExecutiveSummary stores the post-chain summary.
func (s *Service) SetExecutiveSummary(ctx context.Context, sessionID, summary string) (bool, error) {
	if !s.Active() {
		s.skip("set_executive_summary")
		return false, nil
	}

	err := s.withRetry(ctx, "set_executive_summary", func(ctx context.Context) error {
		err := s.client.AlertSession.UpdateOneID(sessionID).
			SetExecutiveSummary(summary).
			Exec(ctx)
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetChatContext replaces the session's interactive chat state.
func (s *Service) SetChatContext(ctx context.Context, sessionID string, chat *models.ChatContext) (bool, error) {
	if !s.Active() {
		s.skip("set_chat_context")
		return false, nil
	}

	chatMap, err := toJSONMap(chat)
	if err != nil {
		return false, fmt.Errorf("failed to encode chat_context: %w", err)
	}

	err = s.withRetry(ctx, "set_chat_context", func(ctx context.Context) error {
		err := s.client.AlertSession.UpdateOneID(sessionID).
			SetChatContext(chatMap).
			Exec(ctx)
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetSession retrieves one session row.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*ent.AlertSession, error) {
	if !s.Active() {
		s.skip("get_session")
		return nil, ErrNotFound
	}

	session, err := s.client.AlertSession.Query().
		Where(alertsession.IDEQ(sessionID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetSessionWithStages returns the full session view with stage executions
// ordered by chain position.
func (s *Service) GetSessionWithStages(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	if !s.Active() {
		s.skip("get_session_with_stages")
		return nil, ErrNotFound
	}

	session, err := s.client.AlertSession.Query().
		Where(alertsession.IDEQ(sessionID)).
		WithStageExecutions(func(q *ent.StageExecutionQuery) {
			q.Order(ent.Asc(stageexecution.FieldStageIndex), ent.Asc(stageexecution.FieldStartedAtUs))
		}).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	detail := &models.SessionDetail{
		SessionSummary:    toSessionSummary(session),
		AlertData:         session.AlertData,
		FinalAnalysis:     session.FinalAnalysis,
		ExecutiveSummary:  session.ExecutiveSummary,
		ChainDefinition:   session.ChainDefinition,
		CurrentStageIndex: session.CurrentStageIndex,
		CurrentStageID:    session.CurrentStageID,
		Stages:            make([]models.StageExecution, 0, len(session.Edges.StageExecutions)),
	}
	for _, exec := range session.Edges.StageExecutions {
		detail.Stages = append(detail.Stages, toStageExecution(exec))
	}
	return detail, nil
}

// ListSessions lists sessions with filtering and pagination.
func (s *Service) ListSessions(ctx context.Context, filters models.SessionFilters) (*models.SessionListResult, error) {
	page := filters.Page
	if page < 1 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	if !s.Active() {
		s.skip("get_sessions_list")
		return &models.SessionListResult{
			Sessions:   []models.SessionSummary{},
			Pagination: models.Pagination{Page: page, PageSize: pageSize},
		}, nil
	}

	query := s.client.AlertSession.Query()
	if filters.Status != "" {
		query = query.Where(alertsession.StatusEQ(alertsession.Status(filters.Status)))
	}
	if filters.AgentType != "" {
		query = query.Where(alertsession.AgentTypeEQ(filters.AgentType))
	}
	if filters.AlertType != "" {
		query = query.Where(alertsession.AlertTypeEQ(filters.AlertType))
	}
	if filters.StartDate != nil {
		query = query.Where(alertsession.StartedAtUsGTE(filters.StartDate.UnixMicro()))
	}
	if filters.EndDate != nil {
		query = query.Where(alertsession.StartedAtUsLT(filters.EndDate.UnixMicro()))
	}
	if filters.Search != "" {
		search := filters.Search
		query = query.Where(func(sel *entsql.Selector) {
			sel.Where(entsql.Or(
				entsql.ExprP("to_tsvector('english', alert_data) @@ plainto_tsquery($1)", search),
				entsql.ExprP("to_tsvector('english', COALESCE(final_analysis, '')) @@ plainto_tsquery($2)", search),
			))
		})
	}

	totalItems, err := query.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	sessions, err := query.
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Order(ent.Desc(alertsession.FieldStartedAtUs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := &models.SessionListResult{
		Sessions: make([]models.SessionSummary, 0, len(sessions)),
		Pagination: models.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: totalItems,
			TotalPages: (totalItems + pageSize - 1) / pageSize,
		},
	}
	for _, session := range sessions {
		result.Sessions = append(result.Sessions, toSessionSummary(session))
	}
	return result, nil
}

// CleanupOrphanedSessions marks every non-terminal session failed. Called
// once at startup: a restart kills all in-flight work, so anything still
// pending, in_progress, or paused can never finish. Idempotent, returns the
// number of sessions updated.
func (s *Service) CleanupOrphanedSessions(ctx context.Context) (int, error) {
	if !s.Active() {
		s.skip("cleanup_orphaned_sessions")
		return 0, nil
	}

	var updated int
	err := s.withRetry(ctx, "cleanup_orphaned_sessions", func(ctx context.Context) error {
		n, err := s.client.AlertSession.Update().
			Where(alertsession.StatusIn(
				alertsession.StatusPending,
				alertsession.StatusInProgress,
				alertsession.StatusPaused,
			)).
			SetStatus(alertsession.StatusFailed).
			SetErrorMessage(OrphanErrorMessage).
			SetCompletedAtUs(models.NowUS()).
			Save(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark orphaned sessions: %w", err)
		}
		updated = n
		return nil
	})
	return updated, err
}

// DeleteSessionsBefore hard-deletes terminal sessions that completed before
// the cutoff. Stage executions and interactions go with them via cascade.
// Returns the number of sessions removed.
func (s *Service) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if !s.Active() {
		s.skip("delete_sessions_before")
		return 0, nil
	}

	var deleted int
	err := s.withRetry(ctx, "delete_sessions_before", func(ctx context.Context) error {
		n, err := s.client.AlertSession.Delete().
			Where(
				alertsession.StatusIn(
					alertsession.StatusCompleted,
					alertsession.StatusFailed,
					alertsession.StatusTimedOut,
					alertsession.StatusCancelled,
				),
				alertsession.CompletedAtUsNotNil(),
				alertsession.CompletedAtUsLT(cutoff.UnixMicro()),
			).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		deleted = n
		return nil
	})
	return deleted, err
}

func toSessionSummary(session *ent.AlertSession) models.SessionSummary {
	return models.SessionSummary{
		SessionID:     session.ID,
		AlertID:       session.AlertID,
		AlertType:     session.AlertType,
		AgentType:     session.AgentType,
		Status:        models.SessionStatus(session.Status),
		StartedAtUS:   session.StartedAtUs,
		CompletedAtUS: session.CompletedAtUs,
		ErrorMessage:  session.ErrorMessage,
		ChainID:       session.ChainID,
	}
}

func toJSONMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
