package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// recordingHook counts executions and fails or panics on demand.
type recordingHook[T any] struct {
	name string

	mu       sync.Mutex
	calls    int
	err      error
	panicMsg string
	last     T
}

func (h *recordingHook[T]) Name() string { return h.name }

func (h *recordingHook[T]) Execute(_ context.Context, interaction T) error {
	h.mu.Lock()
	h.calls++
	h.last = interaction
	panicMsg, err := h.panicMsg, h.err
	h.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	return err
}

func (h *recordingHook[T]) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *recordingHook[T]) lastSeen() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *recordingHook[T]) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func TestTriggerLLMHooks_ReportsPerHookOutcome(t *testing.T) {
	manager := NewManager(0)
	good := &recordingHook[*models.LLMInteraction]{name: "good"}
	bad := &recordingHook[*models.LLMInteraction]{name: "bad", err: errors.New("write failed")}
	manager.RegisterLLMHook(good)
	manager.RegisterLLMHook(bad)

	results := manager.TriggerLLMHooks(context.Background(), &models.LLMInteraction{SessionID: "sess-1"})

	assert.Equal(t, map[string]bool{"good": true, "bad": false}, results)
	assert.Equal(t, 1, good.callCount())
	assert.Equal(t, 1, bad.callCount())
}

func TestTriggerLLMHooks_PanicIsContained(t *testing.T) {
	manager := NewManager(0)
	panicking := &recordingHook[*models.LLMInteraction]{name: "panicking", panicMsg: "nil deref"}
	healthy := &recordingHook[*models.LLMInteraction]{name: "healthy"}
	manager.RegisterLLMHook(panicking)
	manager.RegisterLLMHook(healthy)

	results := manager.TriggerLLMHooks(context.Background(), &models.LLMInteraction{SessionID: "sess-1"})

	assert.False(t, results["panicking"])
	assert.True(t, results["healthy"])
}

func TestTriggerHooks_NoHooksRegistered(t *testing.T) {
	manager := NewManager(0)
	results := manager.TriggerLLMHooks(context.Background(), &models.LLMInteraction{SessionID: "sess-1"})
	assert.Empty(t, results)
}

func TestHookDisabledAfterConsecutiveFailures(t *testing.T) {
	manager := NewManager(0)
	failing := &recordingHook[*models.LLMInteraction]{name: "failing", err: errors.New("boom")}
	manager.RegisterLLMHook(failing)

	interaction := &models.LLMInteraction{SessionID: "sess-1"}
	for i := 0; i < maxHookErrors; i++ {
		results := manager.TriggerLLMHooks(context.Background(), interaction)
		assert.False(t, results["failing"])
	}
	require.Equal(t, maxHookErrors, failing.callCount())

	// The hook is now permanently disabled: reported false, never executed.
	results := manager.TriggerLLMHooks(context.Background(), interaction)
	assert.False(t, results["failing"])
	assert.Equal(t, maxHookErrors, failing.callCount())

	// Clearing the error does not revive it.
	failing.setErr(nil)
	manager.TriggerLLMHooks(context.Background(), interaction)
	assert.Equal(t, maxHookErrors, failing.callCount())
}

func TestHookErrorCountResetsOnSuccess(t *testing.T) {
	manager := NewManager(0)
	flaky := &recordingHook[*models.LLMInteraction]{name: "flaky", err: errors.New("boom")}
	manager.RegisterLLMHook(flaky)

	interaction := &models.LLMInteraction{SessionID: "sess-1"}
	for i := 0; i < maxHookErrors-1; i++ {
		manager.TriggerLLMHooks(context.Background(), interaction)
	}

	// One success resets the consecutive-failure count.
	flaky.setErr(nil)
	results := manager.TriggerLLMHooks(context.Background(), interaction)
	require.True(t, results["flaky"])

	flaky.setErr(errors.New("boom again"))
	for i := 0; i < maxHookErrors-1; i++ {
		manager.TriggerLLMHooks(context.Background(), interaction)
	}

	// Still below the threshold, so the hook keeps executing.
	results = manager.TriggerLLMHooks(context.Background(), interaction)
	assert.False(t, results["flaky"])
	assert.Equal(t, 2*maxHookErrors, flaky.callCount())
}

func TestTriggerHooks_FanOut(t *testing.T) {
	manager := NewManager(0)
	var hooks []*recordingHook[*models.MCPInteraction]
	for i := 0; i < 5; i++ {
		h := &recordingHook[*models.MCPInteraction]{name: fmt.Sprintf("hook-%d", i)}
		hooks = append(hooks, h)
		manager.RegisterMCPCallHook(h)
	}

	results := manager.TriggerMCPCallHooks(context.Background(), &models.MCPInteraction{SessionID: "sess-1"})

	require.Len(t, results, 5)
	for _, h := range hooks {
		assert.True(t, results[h.name])
		assert.Equal(t, 1, h.callCount())
	}
}

func TestTriggerLLMHooks_TruncatesOversizedUserContent(t *testing.T) {
	manager := NewManager(40)
	hook := &recordingHook[*models.LLMInteraction]{name: "capture"}
	manager.RegisterLLMHook(hook)

	userContent := strings.Repeat("u", 100)
	assistantContent := strings.Repeat("a", 100)
	original := &models.LLMInteraction{
		SessionID: "sess-1",
		Conversation: []models.ConversationMessage{
			{Role: models.RoleUser, Content: userContent},
			{Role: models.RoleAssistant, Content: assistantContent},
		},
	}

	manager.TriggerLLMHooks(context.Background(), original)

	seen := hook.lastSeen()
	require.Len(t, seen.Conversation, 2)
	assert.True(t, strings.HasPrefix(seen.Conversation[0].Content, userContent[:40]))
	assert.True(t, strings.HasSuffix(seen.Conversation[0].Content,
		"[HOOK TRUNCATED - Original size: 100 chars, Hook size: 40 chars]"))
	assert.Equal(t, assistantContent, seen.Conversation[1].Content)

	// The caller's interaction is untouched; hooks saw a copy.
	assert.Equal(t, userContent, original.Conversation[0].Content)
	assert.NotSame(t, original, seen)
}
