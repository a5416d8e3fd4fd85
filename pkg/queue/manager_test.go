package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/ent/alertsession"
	"github.com/tarsy-bot/tarsy/pkg/cancellation"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// statusUpdate records one UpdateSessionStatus call.
type statusUpdate struct {
	sessionID string
	status    models.SessionStatus
	errMsg    *string
}

// fakeStore implements SessionStore in memory.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*ent.AlertSession
	rows     map[string]*models.StageExecution
	childIDs map[string][]string
	details  map[string]*models.SessionDetail
	llm      map[string][]models.LLMInteraction
	mcp      map[string][]models.MCPInteraction

	statusUpdates []statusUpdate
	chatContexts  map[string]*models.ChatContext
	summaries     map[string]string

	orphans      int
	orphanErr    error
	cleanupCalls int
	inactive     bool
	pingErr      error
	rowErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:     make(map[string]*ent.AlertSession),
		rows:         make(map[string]*models.StageExecution),
		childIDs:     make(map[string][]string),
		details:      make(map[string]*models.SessionDetail),
		llm:          make(map[string][]models.LLMInteraction),
		mcp:          make(map[string][]models.MCPInteraction),
		chatContexts: make(map[string]*models.ChatContext),
		summaries:    make(map[string]string),
	}
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (*ent.AlertSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("session %s not found", sessionID)
}

func (f *fakeStore) UpdateSessionStatus(_ context.Context, sessionID string, status models.SessionStatus, errorMessage, _ *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, statusUpdate{sessionID, status, errorMessage})
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = alertsession.Status(status)
	}
	return true, nil
}

func (f *fakeStore) SetCurrentStage(_ context.Context, _ string, _ int, _ string) (bool, error) {
	return true, nil
}

func (f *fakeStore) SetExecutiveSummary(_ context.Context, sessionID, summary string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[sessionID] = summary
	return true, nil
}

func (f *fakeStore) SetChatContext(_ context.Context, sessionID string, chat *models.ChatContext) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatContexts[sessionID] = chat
	return true, nil
}

func (f *fakeStore) GetSessionWithStages(_ context.Context, sessionID string) (*models.SessionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.details[sessionID]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("session %s not found", sessionID)
}

func (f *fakeStore) GetStageExecution(_ context.Context, executionID string) (*models.StageExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowErr != nil {
		return nil, f.rowErr
	}
	if r, ok := f.rows[executionID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("stage execution %s not found", executionID)
}

func (f *fakeStore) GetParallelStageChildren(_ context.Context, parentExecutionID string) ([]models.StageExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	children := make([]models.StageExecution, 0, len(f.childIDs[parentExecutionID]))
	for _, id := range f.childIDs[parentExecutionID] {
		children = append(children, *f.rows[id])
	}
	return children, nil
}

func (f *fakeStore) UpdateStageExecution(_ context.Context, exec *models.StageExecution) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[exec.ExecutionID] = exec
	return true, nil
}

func (f *fakeStore) GetLLMInteractions(_ context.Context, sessionID string) ([]models.LLMInteraction, error) {
	return f.llm[sessionID], nil
}

func (f *fakeStore) GetMCPInteractions(_ context.Context, sessionID string) ([]models.MCPInteraction, error) {
	return f.mcp[sessionID], nil
}

func (f *fakeStore) CleanupOrphanedSessions(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orphanErr != nil {
		return 0, f.orphanErr
	}
	f.cleanupCalls++
	if f.cleanupCalls == 1 {
		return f.orphans, nil
	}
	return 0, nil
}

func (f *fakeStore) Active() bool { return !f.inactive }

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) updates() []statusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusUpdate(nil), f.statusUpdates...)
}

func (f *fakeStore) lastUpdate() (statusUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusUpdates) == 0 {
		return statusUpdate{}, false
	}
	return f.statusUpdates[len(f.statusUpdates)-1], true
}

// fakeSessionExecutor returns a canned result and records what it ran.
type fakeSessionExecutor struct {
	mu       sync.Mutex
	result   *ExecutionResult
	executed []string
}

func (f *fakeSessionExecutor) Execute(_ context.Context, session *ent.AlertSession) *ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, session.ID)
	return f.result
}

func (f *fakeSessionExecutor) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// lifecycleEvent records one PublishSessionLifecycle call.
type lifecycleEvent struct {
	eventType string
	sessionID string
	reason    string
}

// fakeEventSink implements EventSink and records everything published.
type fakeEventSink struct {
	mu        sync.Mutex
	statuses  []statusUpdate
	lifecycle []lifecycleEvent
}

func (f *fakeEventSink) PublishSessionStatusChange(sessionID, status string, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusUpdate{sessionID, models.SessionStatus(status), errorMessage})
	return nil
}

func (f *fakeEventSink) PublishSessionLifecycle(eventType, sessionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycle = append(f.lifecycle, lifecycleEvent{eventType, sessionID, reason})
	return nil
}

func (f *fakeEventSink) lifecycleEvents() []lifecycleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lifecycleEvent(nil), f.lifecycle...)
}

func (f *fakeEventSink) lifecycleTypes() []string {
	events := f.lifecycleEvents()
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.eventType
	}
	return types
}

func testSettings() *config.Settings {
	return &config.Settings{
		SessionQueueSize: 4,
		MaxWorkers:       1,
		SessionTimeout:   5 * time.Second,
	}
}

func newTestManager(settings *config.Settings, store *fakeStore, exec SessionExecutor) *Manager {
	return NewManager(settings, store, exec, nil, nil, cancellation.NewTracker())
}

func newTestManagerWithSink(settings *config.Settings, store *fakeStore, exec SessionExecutor, sink EventSink) *Manager {
	return NewManager(settings, store, exec, sink, nil, cancellation.NewTracker())
}

func pendingSession(id, chainID string) *ent.AlertSession {
	return &ent.AlertSession{
		ID:          id,
		Status:      alertsession.StatusPending,
		ChainID:     chainID,
		AlertType:   "kubernetes",
		AlertData:   map[string]any{},
		StartedAtUs: models.NowUS(),
	}
}

func TestEnqueue(t *testing.T) {
	settings := testSettings()
	settings.SessionQueueSize = 2
	m := newTestManager(settings, newFakeStore(), NewStubExecutor())

	require.NoError(t, m.Enqueue("s1"))
	require.NoError(t, m.Enqueue("s2"))
	require.ErrorIs(t, m.Enqueue("s3"), ErrQueueFull)

	m.Stop()
	require.ErrorIs(t, m.Enqueue("s4"), ErrShuttingDown)
}

func TestStartProcessesQueuedSession(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = pendingSession("s1", "chain-a")
	exec := &fakeSessionExecutor{result: &ExecutionResult{
		Status:           models.SessionStatusCompleted,
		FinalAnalysis:    "root cause: OOM",
		ExecutiveSummary: "Pod was OOM killed",
	}}
	m := newTestManager(testSettings(), store, exec)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Enqueue("s1"))

	require.Eventually(t, func() bool {
		last, ok := store.lastUpdate()
		return ok && last.status == models.SessionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	m.Stop()

	updates := store.updates()
	require.Len(t, updates, 2)
	assert.Equal(t, models.SessionStatusInProgress, updates[0].status)
	assert.Equal(t, models.SessionStatusCompleted, updates[1].status)
	assert.Equal(t, []string{"s1"}, exec.ran())
	assert.Equal(t, "Pod was OOM killed", store.summaries["s1"])
}

func TestWorkerSkipsTerminalSession(t *testing.T) {
	store := newFakeStore()
	session := pendingSession("s1", "chain-a")
	session.Status = alertsession.StatusCancelled
	store.sessions["s1"] = session
	exec := &fakeSessionExecutor{result: &ExecutionResult{Status: models.SessionStatusCompleted}}
	m := newTestManager(testSettings(), store, exec)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Enqueue("s1"))
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	assert.Empty(t, exec.ran())
	assert.Empty(t, store.updates())
}

func TestStartIsIdempotent(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(testSettings(), store, NewStubExecutor())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	m.Stop()

	assert.Equal(t, 1, store.cleanupCalls)
}

func TestRecoverOrphans(t *testing.T) {
	t.Run("reports recovered count", func(t *testing.T) {
		store := newFakeStore()
		store.orphans = 3
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.NoError(t, m.RecoverOrphans(context.Background()))
		assert.Equal(t, 3, m.Health(context.Background()).OrphansRecovered)
	})

	t.Run("second pass finds nothing", func(t *testing.T) {
		store := newFakeStore()
		store.orphans = 3
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.NoError(t, m.RecoverOrphans(context.Background()))
		require.NoError(t, m.RecoverOrphans(context.Background()))
		assert.Equal(t, 0, m.Health(context.Background()).OrphansRecovered)
	})

	t.Run("store error propagates", func(t *testing.T) {
		store := newFakeStore()
		store.orphanErr = fmt.Errorf("connection refused")
		m := newTestManager(testSettings(), store, NewStubExecutor())

		err := m.RecoverOrphans(context.Background())
		require.ErrorContains(t, err, "failed to clean up orphaned sessions")
	})
}

func TestHealth(t *testing.T) {
	t.Run("unstarted manager is unhealthy", func(t *testing.T) {
		m := newTestManager(testSettings(), newFakeStore(), NewStubExecutor())
		health := m.Health(context.Background())

		assert.False(t, health.IsHealthy)
		assert.True(t, health.DBReachable)
		assert.Equal(t, 0, health.TotalWorkers)
		assert.Equal(t, 4, health.QueueCapacity)
	})

	t.Run("unreachable store is unhealthy", func(t *testing.T) {
		store := newFakeStore()
		m := newTestManager(testSettings(), store, NewStubExecutor())
		require.NoError(t, m.Start(context.Background()))
		defer m.Stop()

		store.pingErr = fmt.Errorf("connection refused")
		health := m.Health(context.Background())

		assert.False(t, health.IsHealthy)
		assert.False(t, health.DBReachable)
		assert.Equal(t, 1, health.TotalWorkers)
	})

	t.Run("running manager is healthy", func(t *testing.T) {
		m := newTestManager(testSettings(), newFakeStore(), NewStubExecutor())
		require.NoError(t, m.Start(context.Background()))
		defer m.Stop()

		health := m.Health(context.Background())
		assert.True(t, health.IsHealthy)
		assert.Len(t, health.WorkerStats, 1)
	})
}

func TestNormalizeResult(t *testing.T) {
	m := newTestManager(testSettings(), newFakeStore(), NewStubExecutor())
	w := NewWorker("worker-0", m)

	t.Run("nil result becomes failed", func(t *testing.T) {
		result := w.normalizeResult(context.Background(), "s1", nil)
		assert.Equal(t, models.SessionStatusFailed, result.Status)
		assert.EqualError(t, result.Error, "executor returned no result")
	})

	t.Run("statusless result with user cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m.tracker.Mark("s2", cancellation.CauseUserCancel)
		defer m.tracker.Clear("s2")

		result := w.normalizeResult(ctx, "s2", &ExecutionResult{})
		assert.Equal(t, models.SessionStatusCancelled, result.Status)
		assert.EqualError(t, result.Error, "session cancelled by user")
	})

	t.Run("statusless result with dead context times out", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := w.normalizeResult(ctx, "s3", &ExecutionResult{})
		assert.Equal(t, models.SessionStatusTimedOut, result.Status)
		assert.ErrorContains(t, result.Error, "session timed out after")
	})

	t.Run("result with status passes through", func(t *testing.T) {
		in := &ExecutionResult{Status: models.SessionStatusPaused}
		assert.Same(t, in, w.normalizeResult(context.Background(), "s4", in))
	})
}

func TestCancelSession(t *testing.T) {
	t.Run("active session cancelled through its context", func(t *testing.T) {
		m := newTestManager(testSettings(), newFakeStore(), NewStubExecutor())
		ctx, cancel := context.WithCancel(context.Background())
		m.registerSession("s1", cancel)

		require.NoError(t, m.CancelSession(context.Background(), "s1"))
		assert.Error(t, ctx.Err())
		assert.True(t, m.tracker.IsUserCancel("s1"))
	})

	t.Run("queued session finalized directly", func(t *testing.T) {
		store := newFakeStore()
		store.sessions["s1"] = pendingSession("s1", "chain-a")
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.NoError(t, m.CancelSession(context.Background(), "s1"))

		last, ok := store.lastUpdate()
		require.True(t, ok)
		assert.Equal(t, models.SessionStatusCancelled, last.status)
		require.NotNil(t, last.errMsg)
		assert.Equal(t, "session cancelled by user", *last.errMsg)
		// No worker owns the session, so the cancel mark must not linger.
		assert.False(t, m.tracker.IsUserCancel("s1"))
	})

	t.Run("terminal session", func(t *testing.T) {
		store := newFakeStore()
		session := pendingSession("s1", "chain-a")
		session.Status = alertsession.StatusCompleted
		store.sessions["s1"] = session
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.ErrorIs(t, m.CancelSession(context.Background(), "s1"), ErrSessionFinished)
		assert.False(t, m.tracker.IsUserCancel("s1"))
	})

	t.Run("unknown session", func(t *testing.T) {
		m := newTestManager(testSettings(), newFakeStore(), NewStubExecutor())
		require.Error(t, m.CancelSession(context.Background(), "nope"))
		assert.False(t, m.tracker.IsUserCancel("nope"))
	})
}

func TestResumeChat(t *testing.T) {
	pausedSession := func(stageID *string, chat map[string]any) *ent.AlertSession {
		s := pendingSession("s1", "chain-a")
		s.Status = alertsession.StatusPaused
		s.CurrentStageID = stageID
		s.ChatContext = chat
		return s
	}

	t.Run("empty message rejected", func(t *testing.T) {
		m := newTestManager(testSettings(), newFakeStore(), NewStubExecutor())
		require.ErrorContains(t, m.ResumeChat(context.Background(), "s1", "  "), "chat message is empty")
	})

	t.Run("terminal session", func(t *testing.T) {
		store := newFakeStore()
		session := pendingSession("s1", "chain-a")
		session.Status = alertsession.StatusFailed
		store.sessions["s1"] = session
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.ErrorIs(t, m.ResumeChat(context.Background(), "s1", "hello"), ErrSessionFinished)
	})

	t.Run("session not paused", func(t *testing.T) {
		store := newFakeStore()
		session := pendingSession("s1", "chain-a")
		session.Status = alertsession.StatusInProgress
		store.sessions["s1"] = session
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.ErrorIs(t, m.ResumeChat(context.Background(), "s1", "hello"), ErrSessionNotPaused)
	})

	t.Run("parallel pause resumes through agent cancellation", func(t *testing.T) {
		store := newFakeStore()
		out, err := models.StageOutput{Parallel: &models.ParallelStageResult{StageName: "fanout"}}.AsMap()
		require.NoError(t, err)
		stageID := "exec-1"
		store.rows[stageID] = &models.StageExecution{
			ExecutionID: stageID,
			SessionID:   "s1",
			StageOutput: out,
		}
		store.sessions["s1"] = pausedSession(&stageID, nil)
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.ErrorIs(t, m.ResumeChat(context.Background(), "s1", "hello"), ErrParallelPaused)
	})

	t.Run("appends message and re-enqueues", func(t *testing.T) {
		store := newFakeStore()
		chatMap := map[string]any{"messages": []any{
			map[string]any{"role": "user", "content": "what failed?", "timestamp_us": float64(1)},
			map[string]any{"role": "assistant", "content": "the ingress", "timestamp_us": float64(2)},
		}}
		store.sessions["s1"] = pausedSession(nil, chatMap)
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.NoError(t, m.ResumeChat(context.Background(), "s1", "why?"))

		stored := store.chatContexts["s1"]
		require.NotNil(t, stored)
		require.Len(t, stored.Messages, 3)
		assert.Equal(t, models.RoleUser, stored.Messages[2].Role)
		assert.Equal(t, "why?", stored.Messages[2].Content)
		assert.Equal(t, 1, len(m.queue))
	})

	t.Run("full queue leaves session untouched", func(t *testing.T) {
		settings := testSettings()
		settings.SessionQueueSize = 1
		store := newFakeStore()
		store.sessions["s1"] = pausedSession(nil, nil)
		m := newTestManager(settings, store, NewStubExecutor())
		require.NoError(t, m.Enqueue("other"))

		require.ErrorIs(t, m.ResumeChat(context.Background(), "s1", "hello"), ErrQueueFull)
		assert.Empty(t, store.updates())
	})
}

func TestStubExecutor(t *testing.T) {
	exec := NewStubExecutor()

	t.Run("completes without running agents", func(t *testing.T) {
		result := exec.Execute(context.Background(), pendingSession("s1", "chain-a"))
		require.NotNil(t, result)
		assert.Equal(t, models.SessionStatusCompleted, result.Status)
		assert.Equal(t, "Stub executor: no agent execution performed", result.FinalAnalysis)
		assert.Equal(t, "Stub execution completed successfully", result.ExecutiveSummary)
	})

	t.Run("dead context yields cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := exec.Execute(ctx, pendingSession("s1", "chain-a"))
		require.NotNil(t, result)
		assert.Equal(t, models.SessionStatusCancelled, result.Status)
		assert.ErrorIs(t, result.Error, context.Canceled)
	})
}
