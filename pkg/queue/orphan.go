package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// RecoverOrphans fails every session left in a non-terminal state by a
// previous run. The submission queue lives in memory, so a restart strands
// pending, in-progress, and paused sessions with no worker to finish them;
// marking them failed at startup keeps the store honest before any new
// session is accepted.
//
// Runs exactly once, before the workers start. Idempotent: a second pass
// finds nothing to recover.
func (m *Manager) RecoverOrphans(ctx context.Context) error {
	count, err := m.store.CleanupOrphanedSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to clean up orphaned sessions: %w", err)
	}

	m.mu.Lock()
	m.orphansRecovered = count
	m.mu.Unlock()

	if count > 0 {
		slog.Warn("Recovered orphaned sessions from previous run", "count", count)
	} else {
		slog.Info("No orphaned sessions found at startup")
	}
	return nil
}
