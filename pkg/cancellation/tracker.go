// Package cancellation classifies why a session's context was cancelled.
// Context cancellation itself carries no cause, so the cancel paths mark
// the session here and the code that observes ctx.Err() consults the
// tracker to tell a user cancel from a timeout.
package cancellation

import (
	"log/slog"
	"sync"
)

// Cause is why a session was cancelled.
type Cause string

const (
	CauseUserCancel Cause = "user_cancel"
	CauseTimeout    Cause = "timeout"
)

// Tracker is the shared session to cause map. Construct one per process
// and inject it into every cancel path and finalizer.
type Tracker struct {
	mu     sync.RWMutex
	causes map[string]Cause
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{causes: make(map[string]Cause)}
}

// Mark records the cause for a session. The first mark wins: when a user
// cancel and a timeout race, whichever actually cancelled the context
// marked first and is the true cause.
func (t *Tracker) Mark(sessionID string, cause Cause) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.causes[sessionID]; ok {
		if existing != cause {
			slog.Debug("Ignoring conflicting cancellation mark",
				"session_id", sessionID, "existing", existing, "ignored", cause)
		}
		return
	}
	t.causes[sessionID] = cause
}

// IsUserCancel reports whether the session was cancelled by a user.
// Unmarked sessions report false.
func (t *Tracker) IsUserCancel(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.causes[sessionID] == CauseUserCancel
}

// CauseOf returns the recorded cause, if any.
func (t *Tracker) CauseOf(sessionID string) (Cause, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cause, ok := t.causes[sessionID]
	return cause, ok
}

// Clear drops the session's entry. Called by the terminal finalizer so the
// map does not grow with session history.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.causes, sessionID)
}
