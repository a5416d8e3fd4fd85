package history

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"database locked", errors.New("write failed: database is locked"), true},
		{"table locked", errors.New("database table is locked"), true},
		{"connection timeout", errors.New("dial tcp: connection timeout"), true},
		{"connection pool", errors.New("connection pool exhausted"), true},
		{"connection closed", errors.New("connection closed unexpectedly"), true},
		{"malformed disk image", errors.New("disk image is malformed"), true},
		{"case insensitive", errors.New("CONNECTION POOL saturated"), true},
		{"validation", NewValidationError("session_id", "required"), false},
		{"not found", ErrNotFound, false},
		{"constraint", errors.New("duplicate key value violates unique constraint"), false},
		{"pg connection exception", &pgconn.PgError{Code: "08006", Message: "server closed the connection"}, true},
		{"pg connection does not exist", &pgconn.PgError{Code: "08003"}, true},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock detected", &pgconn.PgError{Code: "40P01"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
		{"wrapped pg error", fmt.Errorf("failed to load session: %w", &pgconn.PgError{Code: "08001"}), true},
		{"net op error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset by peer")}, true},
		{"wrapped net error", fmt.Errorf("exec: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	// delay_i = min(100ms * 2^i, 2s) plus at most 10% jitter
	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2 * time.Second,
		2 * time.Second,
	}
	for i, base := range expected {
		for trial := 0; trial < 20; trial++ {
			d := backoffDelay(i)
			assert.GreaterOrEqual(t, d, base, "attempt %d", i)
			assert.LessOrEqual(t, d, base+base/10, "attempt %d", i)
		}
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	s := NewService(nil, false)
	calls := 0
	err := s.withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("duplicate key value")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	s := NewService(nil, false)
	calls := 0
	err := s.withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection pool exhausted")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	s := NewService(nil, false)
	calls := 0
	err := s.withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Equal(t, maxRetries+1, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	s := NewService(nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := s.withRetry(ctx, "op", func(context.Context) error {
		calls++
		return errors.New("connection timeout")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, maxRetries+1)
}

func TestDegradedModeNoOps(t *testing.T) {
	s := NewService(nil, true)
	ctx := context.Background()

	assert.False(t, s.Active())

	id, err := s.CreateSession(ctx, models.CreateSessionRequest{
		AlertID:   "alert-1",
		AlertData: map[string]any{"severity": "critical"},
		AgentType: "KubernetesAgent",
	})
	require.NoError(t, err)
	assert.Empty(t, id)

	ok, err := s.UpdateSessionStatus(ctx, "any", models.SessionStatusCompleted, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// In-memory processing continues with a usable execution id.
	execID, err := s.CreateStageExecution(ctx, &models.StageExecution{SessionID: "any"})
	require.NoError(t, err)
	assert.NotEmpty(t, execID)

	list, err := s.ListSessions(ctx, models.SessionFilters{})
	require.NoError(t, err)
	assert.Empty(t, list.Sessions)
	assert.Equal(t, 1, list.Pagination.Page)

	timeline, err := s.GetSessionTimeline(ctx, "any")
	require.NoError(t, err)
	assert.Empty(t, timeline)

	n, err := s.CleanupOrphanedSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
