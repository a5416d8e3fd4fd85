package hooks

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

func TestTruncateUserMessages_NoopUnderLimit(t *testing.T) {
	in := &models.LLMInteraction{
		Conversation: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "short"},
		},
	}

	out := truncateUserMessages(in, 100)
	assert.Same(t, in, out)
}

func TestTruncateUserMessages_DisabledWhenNoLimit(t *testing.T) {
	in := &models.LLMInteraction{
		Conversation: []models.ConversationMessage{
			{Role: models.RoleUser, Content: strings.Repeat("x", 10000)},
		},
	}

	assert.Same(t, in, truncateUserMessages(in, 0))
	assert.Same(t, in, truncateUserMessages(in, -1))
}

func TestTruncateUserMessages_OnlyUserRoleTruncated(t *testing.T) {
	long := strings.Repeat("x", 200)
	in := &models.LLMInteraction{
		Conversation: []models.ConversationMessage{
			{Role: models.RoleSystem, Content: long},
			{Role: models.RoleUser, Content: long},
			{Role: models.RoleAssistant, Content: long},
			{Role: models.RoleTool, Content: long},
		},
	}

	out := truncateUserMessages(in, 50)
	require.NotSame(t, in, out)

	assert.Equal(t, long, out.Conversation[0].Content)
	assert.Equal(t, long, out.Conversation[2].Content)
	assert.Equal(t, long, out.Conversation[3].Content)

	truncated := out.Conversation[1].Content
	assert.True(t, strings.HasPrefix(truncated, long[:50]))
	assert.True(t, strings.HasSuffix(truncated,
		"[HOOK TRUNCATED - Original size: 200 chars, Hook size: 50 chars]"))

	// The original conversation is untouched.
	assert.Equal(t, long, in.Conversation[1].Content)
}

func TestTruncateUserMessages_BacksOffToRuneBoundary(t *testing.T) {
	content := strings.Repeat("\U0001F98A", 10) // 4 bytes per rune, 40 total
	in := &models.LLMInteraction{
		Conversation: []models.ConversationMessage{
			{Role: models.RoleUser, Content: content},
		},
	}

	out := truncateUserMessages(in, 10)
	truncated := out.Conversation[0].Content

	// The cut backs off from byte 10 to the rune boundary at byte 8.
	assert.True(t, strings.HasSuffix(truncated,
		"[HOOK TRUNCATED - Original size: 40 chars, Hook size: 8 chars]"))
	assert.True(t, utf8.ValidString(truncated))
	assert.True(t, strings.HasPrefix(truncated, strings.Repeat("\U0001F98A", 2)))
}

func TestTruncateUserMessages_CopyLeavesOriginalAlone(t *testing.T) {
	long := strings.Repeat("y", 300)
	in := &models.LLMInteraction{
		SessionID: "sess-1",
		Conversation: []models.ConversationMessage{
			{Role: models.RoleUser, Content: long},
			{Role: models.RoleUser, Content: "tiny"},
		},
	}

	out := truncateUserMessages(in, 20)
	require.NotSame(t, in, out)
	assert.Equal(t, "sess-1", out.SessionID)
	assert.Equal(t, "tiny", out.Conversation[1].Content)

	// Mutating the copy must not leak into the caller's slice.
	out.Conversation[1].Content = "mutated"
	assert.Equal(t, "tiny", in.Conversation[1].Content)
}
