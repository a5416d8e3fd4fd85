package history

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	// maxRetries is the number of retries after the initial attempt.
	maxRetries = 3

	backoffBase = 100 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// backoffDelay computes the delay before retry attempt i (0-based):
// min(base * 2^i, cap) plus up to 10% jitter.
func backoffDelay(i int) time.Duration {
	delay := backoffBase << i
	if delay > backoffCap {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/10 + 1))
	return delay + jitter
}

// withRetry runs fn up to maxRetries+1 times, retrying only errors that
// classify as transient. create_session must never go through here: a
// failed first attempt might still have committed, and a retry would
// duplicate the session.
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt - 1)
			slog.Warn("Retrying history operation",
				"operation", op,
				"attempt", attempt,
				"delay", delay,
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries+1, err)
}
