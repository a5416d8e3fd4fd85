package events

import (
	"sync"
	"time"
)

// ThrottleLimit bounds how many messages one user may receive on one
// channel inside a sliding window.
type ThrottleLimit struct {
	MaxMessages int
	Window      time.Duration
}

type throttleKey struct {
	channel string
	userID  string
}

// Throttler enforces per-channel, per-user sliding-window limits. Channels
// without a configured limit are never throttled. Suppression is silent
// from the client's perspective; a counter tracks it for diagnostics.
type Throttler struct {
	mu         sync.Mutex
	limits     map[string]ThrottleLimit
	history    map[throttleKey][]time.Time
	suppressed int64
}

// NewThrottler creates a throttler with the given per-channel limits.
func NewThrottler(limits map[string]ThrottleLimit) *Throttler {
	if limits == nil {
		limits = make(map[string]ThrottleLimit)
	}
	return &Throttler{
		limits:  limits,
		history: make(map[throttleKey][]time.Time),
	}
}

// SetLimit configures or replaces the limit for one channel.
func (t *Throttler) SetLimit(channel string, limit ThrottleLimit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[channel] = limit
}

// Allow reports whether a message to userID on channel fits inside the
// window, recording it when it does. Expired entries are evicted on each
// check so the window slides.
func (t *Throttler) Allow(channel, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit, limited := t.limits[channel]
	if !limited || limit.MaxMessages <= 0 {
		return true
	}

	now := time.Now()
	key := throttleKey{channel: channel, userID: userID}
	cutoff := now.Add(-limit.Window)

	kept := t.history[key][:0]
	for _, ts := range t.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit.MaxMessages {
		t.history[key] = kept
		t.suppressed++
		return false
	}

	t.history[key] = append(kept, now)
	return true
}

// Forget drops a user's throttle history, e.g. on disconnect.
func (t *Throttler) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.history {
		if key.userID == userID {
			delete(t.history, key)
		}
	}
}

// SuppressedCount returns how many sends were suppressed so far.
func (t *Throttler) SuppressedCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed
}
