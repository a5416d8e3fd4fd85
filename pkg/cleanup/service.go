// Package cleanup enforces session history retention.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SessionDeleter is the slice of the history facade the sweeper drives.
// *history.Service satisfies it.
type SessionDeleter interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper periodically hard-deletes terminal sessions older than the
// retention window. Deletes cascade to stage executions and interactions,
// so one sweep removes a session's full record. Safe to run from multiple
// replicas; overlapping sweeps just find nothing left to delete.
type Sweeper struct {
	store     SessionDeleter
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. It does nothing until Start.
func NewSweeper(store SessionDeleter, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"retention", s.retention,
		"interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes everything past the retention window. Exported for
// operational one-shot use; the background loop calls it on each tick.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	count, err := s.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention sweep removed expired sessions", "count", count)
	}
}
