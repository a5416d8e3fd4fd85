package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sectionText(t *testing.T, block goslack.Block) string {
	t.Helper()
	section, ok := block.(*goslack.SectionBlock)
	require.True(t, ok, "expected a section block")
	return section.Text.Text
}

func buttonOf(t *testing.T, block goslack.Block) *goslack.ButtonBlockElement {
	t.Helper()
	action, ok := block.(*goslack.ActionBlock)
	require.True(t, ok, "expected an action block")
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	return btn
}

func TestBuildStartedMessage(t *testing.T) {
	blocks := BuildStartedMessage("session-123", "https://tarsy.example.com")

	require.Len(t, blocks, 1)
	text := sectionText(t, blocks[0])
	assert.Contains(t, text, ":arrows_counterclockwise:")
	assert.Contains(t, text, "Processing started")
	assert.Contains(t, text, "https://tarsy.example.com/sessions/session-123")
}

func TestBuildTerminalMessage_Completed(t *testing.T) {
	blocks := BuildTerminalMessage(SessionCompletedInput{
		SessionID:        "sess-1",
		Status:           "completed",
		ExecutiveSummary: "The pod crashed due to OOM.",
	}, "https://dash.example.com")

	require.Len(t, blocks, 3)
	assert.Contains(t, sectionText(t, blocks[0]), ":white_check_mark:")
	assert.Contains(t, sectionText(t, blocks[0]), "Analysis Complete")
	assert.Contains(t, sectionText(t, blocks[1]), "The pod crashed due to OOM.")

	btn := buttonOf(t, blocks[2])
	assert.Equal(t, "View Full Analysis", btn.Text.Text)
	assert.Equal(t, "https://dash.example.com/sessions/sess-1", btn.URL)
}

func TestBuildTerminalMessage_CompletedContentFallback(t *testing.T) {
	// No executive summary: the final analysis is the body.
	blocks := BuildTerminalMessage(SessionCompletedInput{
		SessionID:     "sess-2",
		Status:        "completed",
		FinalAnalysis: "Fallback analysis content.",
	}, "https://dash.example.com")

	require.Len(t, blocks, 3)
	assert.Contains(t, sectionText(t, blocks[1]), "Fallback analysis content.")

	// Neither summary nor analysis: header and link only.
	blocks = BuildTerminalMessage(SessionCompletedInput{
		SessionID: "sess-3",
		Status:    "completed",
	}, "https://dash.example.com")
	require.Len(t, blocks, 2)
}

func TestBuildTerminalMessage_FailureStatuses(t *testing.T) {
	tests := []struct {
		status string
		emoji  string
		label  string
	}{
		{"failed", ":x:", "Analysis Failed"},
		{"timed_out", ":hourglass:", "Analysis Timed Out"},
		{"cancelled", ":no_entry_sign:", "Analysis Cancelled"},
		{"exploded", ":question:", "Analysis exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			blocks := BuildTerminalMessage(SessionCompletedInput{
				SessionID: "sess-4",
				Status:    tt.status,
			}, "https://dash.example.com")

			require.Len(t, blocks, 2)
			header := sectionText(t, blocks[0])
			assert.Contains(t, header, tt.emoji)
			assert.Contains(t, header, tt.label)
			assert.Equal(t, "View Details", buttonOf(t, blocks[1]).Text.Text)
		})
	}
}

func TestBuildTerminalMessage_FailedIncludesError(t *testing.T) {
	blocks := BuildTerminalMessage(SessionCompletedInput{
		SessionID:    "sess-5",
		Status:       "failed",
		ErrorMessage: "timeout waiting for LLM",
	}, "https://dash.example.com")

	header := sectionText(t, blocks[0])
	assert.Contains(t, header, "*Error:*")
	assert.Contains(t, header, "timeout waiting for LLM")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		result := truncateForSlack(strings.Repeat("a", maxBlockTextLength+100))
		assert.Less(t, len(result), maxBlockTextLength+100)
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		result := truncateForSlack(strings.Repeat("🔥", maxBlockTextLength+10))
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result))
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxBlockTextLength, utf8.RuneCountInString(prefix))
	})
}
