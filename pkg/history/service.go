// Package history is the durable-append facade over the session store.
// Every write from the capture path goes through here; transient backend
// failures are retried, and when the store is disabled or unhealthy all
// operations degrade to logged no-ops so session processing never blocks
// on persistence.
package history

import (
	"context"
	"log/slog"

	"github.com/tarsy-bot/tarsy/pkg/database"
)

// Service wraps the database client with retry and degradation semantics.
type Service struct {
	client  *database.Client
	enabled bool
}

// NewService creates the history facade. A nil client (store disabled or
// initialization failed) produces a facade in degraded mode: mutating
// operations are no-ops, queries return empty results.
func NewService(client *database.Client, enabled bool) *Service {
	if enabled && client == nil {
		slog.Warn("History store enabled but no database client available, running in degraded mode")
	}
	return &Service{client: client, enabled: enabled}
}

// Active reports whether writes actually reach the store.
func (s *Service) Active() bool {
	return s.enabled && s.client != nil
}

// Client exposes the underlying database client for health checks.
func (s *Service) Client() *database.Client {
	return s.client
}

// Ping probes store reachability. An inactive store pings clean: degraded
// mode is deliberate, not an outage.
func (s *Service) Ping(ctx context.Context) error {
	if !s.Active() {
		return nil
	}
	return s.client.DB().PingContext(ctx)
}

func (s *Service) skip(op string) {
	slog.Debug("History store inactive, skipping operation", "operation", op)
}
