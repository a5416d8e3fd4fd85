package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottler_UnlimitedChannels(t *testing.T) {
	throttler := NewThrottler(nil)

	for i := 0; i < 100; i++ {
		assert.True(t, throttler.Allow("dashboard_updates", "user-1"))
	}
	assert.Equal(t, int64(0), throttler.SuppressedCount())
}

func TestThrottler_EnforcesLimit(t *testing.T) {
	throttler := NewThrottler(map[string]ThrottleLimit{
		"session_abc": {MaxMessages: 2, Window: time.Minute},
	})

	assert.True(t, throttler.Allow("session_abc", "user-1"))
	assert.True(t, throttler.Allow("session_abc", "user-1"))
	assert.False(t, throttler.Allow("session_abc", "user-1"))
	assert.False(t, throttler.Allow("session_abc", "user-1"))
	assert.Equal(t, int64(2), throttler.SuppressedCount())

	// Other channels for the same user stay unaffected.
	assert.True(t, throttler.Allow("dashboard_updates", "user-1"))
}

func TestThrottler_WindowSlides(t *testing.T) {
	throttler := NewThrottler(map[string]ThrottleLimit{
		"session_abc": {MaxMessages: 1, Window: 50 * time.Millisecond},
	})

	assert.True(t, throttler.Allow("session_abc", "user-1"))
	assert.False(t, throttler.Allow("session_abc", "user-1"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, throttler.Allow("session_abc", "user-1"))
}

func TestThrottler_PerUserIsolation(t *testing.T) {
	throttler := NewThrottler(map[string]ThrottleLimit{
		"session_abc": {MaxMessages: 1, Window: time.Minute},
	})

	assert.True(t, throttler.Allow("session_abc", "user-1"))
	assert.False(t, throttler.Allow("session_abc", "user-1"))

	assert.True(t, throttler.Allow("session_abc", "user-2"))
}

func TestThrottler_ForgetClearsHistory(t *testing.T) {
	throttler := NewThrottler(map[string]ThrottleLimit{
		"session_abc": {MaxMessages: 1, Window: time.Minute},
	})

	assert.True(t, throttler.Allow("session_abc", "user-1"))
	assert.False(t, throttler.Allow("session_abc", "user-1"))

	throttler.Forget("user-1")
	assert.True(t, throttler.Allow("session_abc", "user-1"))
}

func TestThrottler_SetLimit(t *testing.T) {
	throttler := NewThrottler(nil)
	assert.True(t, throttler.Allow("session_abc", "user-1"))

	throttler.SetLimit("session_abc", ThrottleLimit{MaxMessages: 1, Window: time.Minute})
	assert.True(t, throttler.Allow("session_abc", "user-1"))
	assert.False(t, throttler.Allow("session_abc", "user-1"))
}
