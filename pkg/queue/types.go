// Package queue owns session execution: an in-memory submission queue, a
// bounded worker pool that drains it, the chain scheduler that runs each
// session's stages, and the startup orphan recovery pass. A session is
// enqueued by id; one worker owns it end to end under the session timeout.
// Restarts lose the queue by design: anything non-terminal at startup is
// marked failed by orphan recovery, never resumed.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull reports that the submission queue is at capacity.
	ErrQueueFull = errors.New("session queue is full")

	// ErrShuttingDown reports that the manager no longer accepts sessions.
	ErrShuttingDown = errors.New("queue manager is shutting down")
)

// SessionStore is the slice of the history facade the queue needs: session
// lifecycle writes, stage rows for continuation and per-agent cancellation,
// and the recorded interactions that rebuild chat context. *history.Service
// satisfies it; tests substitute fakes.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*ent.AlertSession, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage, finalAnalysis *string) (bool, error)
	SetCurrentStage(ctx context.Context, sessionID string, stageIndex int, stageID string) (bool, error)
	SetExecutiveSummary(ctx context.Context, sessionID, summary string) (bool, error)
	SetChatContext(ctx context.Context, sessionID string, chat *models.ChatContext) (bool, error)
	GetSessionWithStages(ctx context.Context, sessionID string) (*models.SessionDetail, error)
	GetStageExecution(ctx context.Context, executionID string) (*models.StageExecution, error)
	GetParallelStageChildren(ctx context.Context, parentExecutionID string) ([]models.StageExecution, error)
	UpdateStageExecution(ctx context.Context, exec *models.StageExecution) (bool, error)
	GetLLMInteractions(ctx context.Context, sessionID string) ([]models.LLMInteraction, error)
	GetMCPInteractions(ctx context.Context, sessionID string) ([]models.MCPInteraction, error)
	CleanupOrphanedSessions(ctx context.Context) (int, error)
	Active() bool
	Ping(ctx context.Context) error
}

// EventSink is the slice of the event fabric the queue needs: session
// status envelopes and lifecycle announcements. *events.Publisher satisfies
// it; tests substitute fakes, and a nil sink disables broadcasting.
type EventSink interface {
	PublishSessionStatusChange(sessionID, status string, errorMessage *string) error
	PublishSessionLifecycle(eventType, sessionID, reason string) error
}

// SessionExecutor runs one session's chain to its next resting state.
//
// The executor writes stage rows, interactions, and chain progress
// incrementally while it runs; the returned result carries only the
// session-level outcome. A paused result is non-terminal: the session
// waits for an external resume and is re-enqueued then.
type SessionExecutor interface {
	Execute(ctx context.Context, session *ent.AlertSession) *ExecutionResult
}

// ExecutionResult is the session-level outcome of one executor run.
type ExecutionResult struct {
	Status           models.SessionStatus // completed, failed, timed_out, cancelled, or paused
	FinalAnalysis    string               // last stage analysis (if any stage concluded)
	ExecutiveSummary string               // post-chain summary (completed sessions only)
	Error            error                // error details for failed/timed_out/cancelled
}

// PoolHealth is the queue manager's health snapshot for the health API.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveSessions   int            `json:"active_sessions"`
	QueueDepth       int            `json:"queue_depth"`
	QueueCapacity    int            `json:"queue_capacity"`
	OrphansRecovered int            `json:"orphans_recovered"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentSessionID  string       `json:"current_session_id,omitempty"`
	SessionsProcessed int          `json:"sessions_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}
