package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/ent/alertsession"
	"github.com/tarsy-bot/tarsy/pkg/models"
	testdb "github.com/tarsy-bot/tarsy/test/database"
)

func newTestService(t *testing.T) *Service {
	return NewService(testdb.NewTestClient(t), true)
}

func createTestSession(t *testing.T, s *Service, mutate func(*models.CreateSessionRequest)) string {
	t.Helper()
	req := models.CreateSessionRequest{
		AlertID:   uuid.New().String(),
		AlertData: map[string]any{"environment": "production", "message": "pod crash looping"},
		AgentType: "KubernetesAgent",
		AlertType: "kubernetes",
		ChainID:   "kubernetes-agent-chain",
	}
	if mutate != nil {
		mutate(&req)
	}
	id, err := s.CreateSession(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestService_CreateSession(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	t.Run("persists pending session with microsecond timestamps", func(t *testing.T) {
		before := models.NowUS()
		id := createTestSession(t, service, nil)

		session, err := service.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, alertsession.StatusPending, session.Status)
		assert.Equal(t, "KubernetesAgent", session.AgentType)
		assert.Equal(t, "kubernetes", session.AlertType)
		assert.Equal(t, "kubernetes-agent-chain", session.ChainID)
		assert.Equal(t, "production", session.AlertData["environment"])
		assert.GreaterOrEqual(t, session.StartedAtUs, before)
		assert.Nil(t, session.CompletedAtUs)
		assert.Nil(t, session.ErrorMessage)
	})

	t.Run("validates required fields", func(t *testing.T) {
		tests := []struct {
			name string
			req  models.CreateSessionRequest
		}{
			{"missing alert_id", models.CreateSessionRequest{AlertData: map[string]any{"k": "v"}, AgentType: "a"}},
			{"missing alert_data", models.CreateSessionRequest{AlertID: "id", AgentType: "a"}},
			{"missing agent_type", models.CreateSessionRequest{AlertID: "id", AlertData: map[string]any{"k": "v"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := service.CreateSession(ctx, tt.req)
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
			})
		}
	})

	t.Run("stores mcp selection and chain definition", func(t *testing.T) {
		id := createTestSession(t, service, func(req *models.CreateSessionRequest) {
			req.ChainDefinition = map[string]any{"chain_id": "kubernetes-agent-chain"}
			req.MCPSelection = &models.MCPSelectionConfig{
				Servers: []models.MCPServerSelection{
					{Name: "kubernetes-server", Tools: []string{"pods_list"}},
				},
			}
		})

		session, err := service.GetSession(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, session.ChainDefinition)
		assert.NotNil(t, session.McpSelection)
	})
}

func TestService_UpdateSessionStatus(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	t.Run("non-terminal transition leaves completed_at_us unset", func(t *testing.T) {
		id := createTestSession(t, service, nil)

		ok, err := service.UpdateSessionStatus(ctx, id, models.SessionStatusInProgress, nil, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		session, err := service.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, alertsession.StatusInProgress, session.Status)
		assert.Nil(t, session.CompletedAtUs)
	})

	t.Run("terminal transition sets completed_at_us exactly once", func(t *testing.T) {
		id := createTestSession(t, service, nil)
		analysis := "root cause identified"

		ok, err := service.UpdateSessionStatus(ctx, id, models.SessionStatusCompleted, nil, &analysis)
		require.NoError(t, err)
		assert.True(t, ok)

		session, err := service.GetSession(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, session.CompletedAtUs)
		require.NotNil(t, session.FinalAnalysis)
		assert.Equal(t, analysis, *session.FinalAnalysis)
		firstCompletedAt := *session.CompletedAtUs

		// Re-writing the same terminal status is allowed but must not
		// move the completion timestamp.
		time.Sleep(5 * time.Millisecond)
		ok, err = service.UpdateSessionStatus(ctx, id, models.SessionStatusCompleted, nil, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		session, err = service.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, alertsession.StatusCompleted, session.Status)
		require.NotNil(t, session.CompletedAtUs)
		assert.Equal(t, firstCompletedAt, *session.CompletedAtUs)
	})

	t.Run("terminal status is sticky", func(t *testing.T) {
		id := createTestSession(t, service, nil)
		msg := "session cancelled by user"

		ok, err := service.UpdateSessionStatus(ctx, id, models.SessionStatusCancelled, &msg, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		// A racing worker picking the session up after cancellation
		// must not be able to revive it or re-finish it.
		ok, err = service.UpdateSessionStatus(ctx, id, models.SessionStatusInProgress, nil, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		analysis := "late analysis"
		ok, err = service.UpdateSessionStatus(ctx, id, models.SessionStatusCompleted, nil, &analysis)
		require.NoError(t, err)
		assert.False(t, ok)

		session, err := service.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, alertsession.StatusCancelled, session.Status)
		require.NotNil(t, session.ErrorMessage)
		assert.Equal(t, msg, *session.ErrorMessage)
		assert.Nil(t, session.FinalAnalysis)
	})

	t.Run("unknown session returns ErrNotFound", func(t *testing.T) {
		_, err := service.UpdateSessionStatus(ctx, uuid.New().String(), models.SessionStatusCompleted, nil, nil)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_SessionProgressFields(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	id := createTestSession(t, service, nil)

	ok, err := service.SetCurrentStage(ctx, id, 2, "data-collection")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.SetExecutiveSummary(ctx, id, "cluster disk pressure resolved")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.SetChatContext(ctx, id, &models.ChatContext{
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "dig into the evictions", TimestampUS: models.NowUS()},
		},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	session, err := service.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session.CurrentStageIndex)
	assert.Equal(t, 2, *session.CurrentStageIndex)
	require.NotNil(t, session.CurrentStageID)
	assert.Equal(t, "data-collection", *session.CurrentStageID)
	require.NotNil(t, session.ExecutiveSummary)
	assert.Equal(t, "cluster disk pressure resolved", *session.ExecutiveSummary)
	assert.NotNil(t, session.ChatContext)
}

func TestService_ListSessions(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id := createTestSession(t, service, func(req *models.CreateSessionRequest) {
			req.AlertData = map[string]any{"message": fmt.Sprintf("alert number %d", i)}
		})
		ids = append(ids, id)
	}
	createTestSession(t, service, func(req *models.CreateSessionRequest) {
		req.AgentType = "SynthesisAgent"
		req.AlertType = "NamespaceTerminating"
		req.AlertData = map[string]any{"message": "namespace stuck terminating finalizer"}
	})
	_, err := service.UpdateSessionStatus(ctx, ids[0], models.SessionStatusCompleted, nil, nil)
	require.NoError(t, err)

	t.Run("filters by status", func(t *testing.T) {
		result, err := service.ListSessions(ctx, models.SessionFilters{Status: "completed"})
		require.NoError(t, err)
		require.Len(t, result.Sessions, 1)
		assert.Equal(t, ids[0], result.Sessions[0].SessionID)
	})

	t.Run("filters by agent and alert type", func(t *testing.T) {
		result, err := service.ListSessions(ctx, models.SessionFilters{AgentType: "SynthesisAgent"})
		require.NoError(t, err)
		assert.Len(t, result.Sessions, 1)

		result, err = service.ListSessions(ctx, models.SessionFilters{AlertType: "NamespaceTerminating"})
		require.NoError(t, err)
		assert.Len(t, result.Sessions, 1)
	})

	t.Run("paginates newest first", func(t *testing.T) {
		result, err := service.ListSessions(ctx, models.SessionFilters{Page: 1, PageSize: 4})
		require.NoError(t, err)
		assert.Len(t, result.Sessions, 4)
		assert.Equal(t, 6, result.Pagination.TotalItems)
		assert.Equal(t, 2, result.Pagination.TotalPages)
		for i := 1; i < len(result.Sessions); i++ {
			assert.GreaterOrEqual(t, result.Sessions[i-1].StartedAtUS, result.Sessions[i].StartedAtUS)
		}

		result, err = service.ListSessions(ctx, models.SessionFilters{Page: 2, PageSize: 4})
		require.NoError(t, err)
		assert.Len(t, result.Sessions, 2)
	})

	t.Run("filters by start date window", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		result, err := service.ListSessions(ctx, models.SessionFilters{StartDate: &future})
		require.NoError(t, err)
		assert.Empty(t, result.Sessions)

		past := time.Now().Add(-time.Hour)
		result, err = service.ListSessions(ctx, models.SessionFilters{StartDate: &past, EndDate: &future})
		require.NoError(t, err)
		assert.Len(t, result.Sessions, 6)
	})

	t.Run("full-text search over alert data", func(t *testing.T) {
		result, err := service.ListSessions(ctx, models.SessionFilters{Search: "finalizer"})
		require.NoError(t, err)
		require.Len(t, result.Sessions, 1)
		assert.Equal(t, "NamespaceTerminating", result.Sessions[0].AlertType)

		result, err = service.ListSessions(ctx, models.SessionFilters{Search: "nonexistent-term"})
		require.NoError(t, err)
		assert.Empty(t, result.Sessions)
	})
}

func TestService_GetSessionWithStages(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	id := createTestSession(t, service, nil)

	// Insert stages out of chain order to prove the query sorts them.
	for _, idx := range []int{2, 0, 1} {
		started := models.NowUS()
		_, err := service.CreateStageExecution(ctx, &models.StageExecution{
			SessionID:   id,
			StageName:   fmt.Sprintf("stage-%d", idx),
			StageIndex:  idx,
			StageID:     fmt.Sprintf("stage-%d", idx),
			Agent:       "KubernetesAgent",
			Status:      models.StageStatusPending,
			StartedAtUS: &started,
		})
		require.NoError(t, err)
	}

	detail, err := service.GetSessionWithStages(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, detail.SessionID)
	require.Len(t, detail.Stages, 3)
	for i, stage := range detail.Stages {
		assert.Equal(t, i, stage.StageIndex)
	}

	_, err = service.GetSessionWithStages(ctx, uuid.New().String())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_CleanupOrphanedSessions(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	pendingID := createTestSession(t, service, nil)
	inProgressID := createTestSession(t, service, nil)
	pausedID := createTestSession(t, service, nil)
	completedID := createTestSession(t, service, nil)

	_, err := service.UpdateSessionStatus(ctx, inProgressID, models.SessionStatusInProgress, nil, nil)
	require.NoError(t, err)
	_, err = service.UpdateSessionStatus(ctx, pausedID, models.SessionStatusPaused, nil, nil)
	require.NoError(t, err)
	_, err = service.UpdateSessionStatus(ctx, completedID, models.SessionStatusCompleted, nil, nil)
	require.NoError(t, err)

	count, err := service.CleanupOrphanedSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, id := range []string{pendingID, inProgressID, pausedID} {
		session, err := service.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, alertsession.StatusFailed, session.Status)
		require.NotNil(t, session.ErrorMessage)
		assert.Equal(t, OrphanErrorMessage, *session.ErrorMessage)
		assert.NotNil(t, session.CompletedAtUs)
	}

	// Terminal sessions are untouched.
	session, err := service.GetSession(ctx, completedID)
	require.NoError(t, err)
	assert.Equal(t, alertsession.StatusCompleted, session.Status)
	assert.Nil(t, session.ErrorMessage)

	// Idempotent: a second pass finds nothing to repair.
	count, err = service.CleanupOrphanedSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
