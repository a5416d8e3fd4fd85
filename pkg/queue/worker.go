package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/models"
	"github.com/tarsy-bot/tarsy/pkg/slack"
)

// storeOpTimeout bounds the worker's own store operations (session load,
// terminal update). Executor-internal writes carry their own deadlines.
const storeOpTimeout = 10 * time.Second

// Worker drains the submission queue: each received session id is loaded,
// executed under the session timeout, and finalized. One worker runs one
// session at a time.
type Worker struct {
	id       string
	m        *Manager
	stopCh   chan struct{}
	stopOnce sync.Once

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	sessionsProcessed int
	lastActivity      time.Time
}

// NewWorker creates a queue worker attached to its manager.
func NewWorker(id string, m *Manager) *Worker {
	return &Worker{
		id:           id,
		m:            m,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine tracked by the manager.
func (w *Worker) Start(ctx context.Context) {
	w.m.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker loop to exit. Safe to call more than once; the
// manager waits for completion separately.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.m.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-w.m.stopCh:
			log.Info("Manager stopping, worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case sessionID := <-w.m.queue:
			// Shutdown races the queue receive; a session picked after stop
			// stays pending in the store for the next startup to fail.
			if w.m.stopped() {
				log.Info("Shutdown in progress, leaving session in store", "session_id", sessionID)
				return
			}
			w.process(ctx, sessionID)
		}
	}
}

// process runs one queued session end to end.
func (w *Worker) process(ctx context.Context, sessionID string) {
	log := slog.With("worker_id", w.id, "session_id", sessionID)

	loadCtx, cancelLoad := context.WithTimeout(ctx, storeOpTimeout)
	session, err := w.m.store.GetSession(loadCtx, sessionID)
	cancelLoad()
	if err != nil {
		log.Error("Failed to load queued session", "error", err)
		return
	}

	// A session cancelled while queued reaches the worker already terminal.
	status := models.SessionStatus(session.Status)
	if status.IsTerminal() {
		log.Info("Skipping queued session in terminal state", "status", status)
		return
	}

	// Resume paths (per-agent cancellation) transition the session before
	// enqueueing; everything else transitions here.
	if status != models.SessionStatusInProgress {
		if _, err := w.m.store.UpdateSessionStatus(ctx, sessionID, models.SessionStatusInProgress, nil, nil); err != nil {
			log.Error("Failed to mark session in progress", "error", err)
			return
		}
		w.m.publishStatus(sessionID, models.SessionStatusInProgress, nil)
	}

	threadTS := w.notifySlackStart(ctx, session)

	w.setStatus(WorkerStatusWorking, sessionID)
	defer w.setStatus(WorkerStatusIdle, "")

	sessionCtx, cancelSession := context.WithTimeout(ctx, w.m.settings.SessionTimeout)
	defer cancelSession()

	// Register for user-triggered cancellation; clear the cancellation cause
	// when this run ends so a later resume starts unmarked.
	w.m.registerSession(sessionID, cancelSession)
	defer w.m.unregisterSession(sessionID)
	defer w.m.tracker.Clear(sessionID)

	result := w.m.executor.Execute(sessionCtx, session)
	result = w.normalizeResult(sessionCtx, sessionID, result)

	w.finalizeSession(session, result, threadTS)

	w.mu.Lock()
	w.sessionsProcessed++
	w.mu.Unlock()

	log.Info("Session processing complete", "status", result.Status)
}

// normalizeResult guards against a nil or statusless executor result so the
// session always reaches a defined state.
func (w *Worker) normalizeResult(sessionCtx context.Context, sessionID string, result *ExecutionResult) *ExecutionResult {
	if result == nil {
		result = &ExecutionResult{}
	}
	if result.Status != "" {
		return result
	}
	switch {
	case sessionCtx.Err() != nil && w.m.tracker.IsUserCancel(sessionID):
		result.Status = models.SessionStatusCancelled
		result.Error = fmt.Errorf("session cancelled by user")
	case sessionCtx.Err() != nil:
		result.Status = models.SessionStatusTimedOut
		result.Error = fmt.Errorf("session timed out after %v", w.m.settings.SessionTimeout)
	default:
		result.Status = models.SessionStatusFailed
		result.Error = fmt.Errorf("executor returned no result")
	}
	return result
}

// finalizeSession writes the session's resting state and fans out
// notifications. Runs on a background context: the session context is
// typically cancelled or expired by now.
func (w *Worker) finalizeSession(session *ent.AlertSession, result *ExecutionResult, threadTS string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	var errMsg *string
	if result.Error != nil {
		s := result.Error.Error()
		errMsg = &s
	}
	var finalAnalysis *string
	if result.FinalAnalysis != "" {
		finalAnalysis = &result.FinalAnalysis
	}

	if _, err := w.m.store.UpdateSessionStatus(ctx, session.ID, result.Status, errMsg, finalAnalysis); err != nil {
		slog.Error("Failed to update session resting status",
			"session_id", session.ID, "status", result.Status, "error", err)
	}
	if result.ExecutiveSummary != "" {
		if _, err := w.m.store.SetExecutiveSummary(ctx, session.ID, result.ExecutiveSummary); err != nil {
			slog.Error("Failed to store executive summary", "session_id", session.ID, "error", err)
		}
	}

	w.m.publishStatus(session.ID, result.Status, errMsg)

	// Paused is a resting state, not an outcome; notify on outcomes only.
	if result.Status != models.SessionStatusPaused {
		w.notifySlackTerminal(ctx, session, result, threadTS)
	}
}

// notifySlackStart sends a start notification for Slack-originated alerts.
// Returns the resolved thread timestamp for the terminal notification.
func (w *Worker) notifySlackStart(ctx context.Context, session *ent.AlertSession) string {
	return w.m.slack.NotifySessionStarted(ctx, slack.SessionStartedInput{
		SessionID:               session.ID,
		AlertType:               session.AlertType,
		SlackMessageFingerprint: slackFingerprint(session),
	})
}

// notifySlackTerminal sends the outcome notification.
func (w *Worker) notifySlackTerminal(ctx context.Context, session *ent.AlertSession, result *ExecutionResult, threadTS string) {
	var errMsg string
	if result.Error != nil {
		errMsg = result.Error.Error()
	}
	w.m.slack.NotifySessionCompleted(ctx, slack.SessionCompletedInput{
		SessionID:               session.ID,
		AlertType:               session.AlertType,
		Status:                  string(result.Status),
		ExecutiveSummary:        result.ExecutiveSummary,
		FinalAnalysis:           result.FinalAnalysis,
		ErrorMessage:            errMsg,
		SlackMessageFingerprint: slackFingerprint(session),
		ThreadTS:                threadTS,
	})
}

// slackFingerprint extracts the originating Slack message fingerprint that
// Slack-sourced alerts embed in their payload.
func slackFingerprint(session *ent.AlertSession) string {
	fp, _ := session.AlertData["slack_message_fingerprint"].(string)
	return fp
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}
