// Package hooks is the capture fabric around LLM and tool-server calls.
//
// Every interaction is wrapped in a scoped capture context that stamps
// timing and success exactly once and then fans the typed record out to the
// registered hooks (durable history, live broadcast). The fabric is
// one-directional by construction: a hook can observe an interaction but a
// failing, panicking, or disabled hook can never break the wrapped call or
// its sibling hooks.
package hooks

import (
	"context"
	"log/slog"
	"sync"
)

// maxHookErrors is the number of consecutive failures after which a hook is
// permanently disabled.
const maxHookErrors = 5

// Hook receives one typed interaction after its capture scope closes.
type Hook[T any] interface {
	Name() string
	Execute(ctx context.Context, interaction T) error
}

// hookState wraps a registered hook with its failure accounting. A success
// resets the counter; maxHookErrors consecutive failures disable the hook
// for the rest of the process lifetime.
type hookState[T any] struct {
	hook Hook[T]

	mu         sync.Mutex
	errorCount int
	disabled   bool
}

// safeExecute runs the hook and reports whether it succeeded. Errors and
// panics are contained here; they never reach the caller.
func (s *hookState[T]) safeExecute(ctx context.Context, interaction T) (ok bool) {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hook panicked", "hook", s.hook.Name(), "panic", r)
			s.recordFailure()
			ok = false
		}
	}()

	if err := s.hook.Execute(ctx, interaction); err != nil {
		slog.Error("Hook execution failed", "hook", s.hook.Name(), "error", err)
		s.recordFailure()
		return false
	}

	s.mu.Lock()
	s.errorCount = 0
	s.mu.Unlock()
	return true
}

func (s *hookState[T]) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	if s.errorCount >= maxHookErrors && !s.disabled {
		s.disabled = true
		slog.Error("Hook permanently disabled after repeated failures",
			"hook", s.hook.Name(), "error_count", s.errorCount)
	}
}

func (s *hookState[T]) isDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// registry is one typed hook list. Registration happens at startup; a lock
// still guards late registration and trigger snapshots.
type registry[T any] struct {
	mu    sync.RWMutex
	hooks []*hookState[T]
}

func (r *registry[T]) register(h Hook[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, &hookState[T]{hook: h})
}

// trigger executes all registered hooks concurrently and collects each
// hook's outcome by name. Disabled hooks report false.
func (r *registry[T]) trigger(ctx context.Context, interaction T) map[string]bool {
	r.mu.RLock()
	states := make([]*hookState[T], len(r.hooks))
	copy(states, r.hooks)
	r.mu.RUnlock()

	results := make(map[string]bool, len(states))
	var (
		wg        sync.WaitGroup
		resultsMu sync.Mutex
	)
	for _, state := range states {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := state.safeExecute(ctx, interaction)
			resultsMu.Lock()
			results[state.hook.Name()] = ok
			resultsMu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
