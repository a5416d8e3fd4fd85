package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tarsy-bot/tarsy/pkg/cancellation"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/slack"
)

// Manager owns the submission queue and the worker pool that drains it.
// Sessions travel through the queue by id; the owning worker loads the row,
// runs the executor under the session timeout, and finalizes the session.
// Resume paths (chat reply, per-agent cancellation) re-enqueue the same id
// and the executor continues from the persisted chain position.
type Manager struct {
	settings  *config.Settings
	store     SessionStore
	executor  SessionExecutor
	publisher EventSink
	slack     *slack.Service
	tracker   *cancellation.Tracker

	queue    chan string
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Session cancel registry: session_id → cancel function
	mu      sync.RWMutex
	active  map[string]context.CancelFunc
	started bool

	orphansRecovered int
}

// NewManager creates a queue manager. publisher and slackService may be nil
// (broadcasting and notifications disabled); tracker must not be nil.
func NewManager(
	settings *config.Settings,
	store SessionStore,
	executor SessionExecutor,
	publisher EventSink,
	slackService *slack.Service,
	tracker *cancellation.Tracker,
) *Manager {
	return &Manager{
		settings:  settings,
		store:     store,
		executor:  executor,
		publisher: publisher,
		slack:     slackService,
		tracker:   tracker,
		queue:     make(chan string, settings.SessionQueueSize),
		workers:   make([]*Worker, 0, settings.MaxWorkers),
		stopCh:    make(chan struct{}),
		active:    make(map[string]context.CancelFunc),
	}
}

// Start recovers orphaned sessions and spawns the worker goroutines.
// Recovery runs first so workers never race a stale non-terminal row.
// It is safe to call multiple times; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		slog.Warn("Queue manager already started, ignoring duplicate Start call")
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.RecoverOrphans(ctx); err != nil {
		return fmt.Errorf("orphan recovery failed: %w", err)
	}

	slog.Info("Starting queue manager",
		"worker_count", m.settings.MaxWorkers,
		"queue_capacity", cap(m.queue),
		"session_timeout", m.settings.SessionTimeout)

	for i := 0; i < m.settings.MaxWorkers; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), m)
		m.workers = append(m.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("Queue manager started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current sessions (graceful shutdown). Sessions still queued are left
// pending in the store; the next startup's orphan recovery fails them.
func (m *Manager) Stop() {
	slog.Info("Stopping queue manager gracefully")

	active := m.activeSessionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active sessions to complete",
			"count", len(active),
			"session_ids", active)
	}

	m.stopOnce.Do(func() { close(m.stopCh) })
	for _, worker := range m.workers {
		worker.Stop()
	}
	m.wg.Wait()

	slog.Info("Queue manager stopped gracefully")
}

// Enqueue submits a session id for execution.
func (m *Manager) Enqueue(sessionID string) error {
	select {
	case <-m.stopCh:
		return ErrShuttingDown
	default:
	}
	select {
	case m.queue <- sessionID:
		return nil
	default:
		return ErrQueueFull
	}
}

// stopped reports whether shutdown has been signalled.
func (m *Manager) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// registerSession stores a cancel function for user-triggered cancellation.
func (m *Manager) registerSession(sessionID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[sessionID] = cancel
}

// unregisterSession removes the cancel function when processing ends.
func (m *Manager) unregisterSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
}

// cancelActive triggers context cancellation for a running session.
// Returns false when the session is not currently executing.
func (m *Manager) cancelActive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cancel, ok := m.active[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// activeSessionIDs returns the ids of currently executing sessions.
func (m *Manager) activeSessionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Health returns the manager's health snapshot: queue depth, active session
// count, per-worker state, and store reachability.
func (m *Manager) Health(ctx context.Context) *PoolHealth {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	dbErr := m.store.Ping(pingCtx)
	if dbErr != nil {
		slog.Error("Store unreachable during health check", "error", dbErr)
	}

	workerStats := make([]WorkerHealth, len(m.workers))
	activeWorkers := 0
	for i, worker := range m.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	m.mu.RLock()
	activeSessions := len(m.active)
	started := m.started
	orphansRecovered := m.orphansRecovered
	m.mu.RUnlock()

	return &PoolHealth{
		IsHealthy:        started && len(m.workers) > 0 && dbErr == nil,
		DBReachable:      dbErr == nil,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(m.workers),
		ActiveSessions:   activeSessions,
		QueueDepth:       len(m.queue),
		QueueCapacity:    cap(m.queue),
		OrphansRecovered: orphansRecovered,
		WorkerStats:      workerStats,
	}
}
