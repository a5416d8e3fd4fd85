package hooks

import (
	"fmt"
	"unicode/utf8"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// truncateUserMessages returns the interaction with every oversized
// user-message content cut down to maxSize plus an inline marker recording
// both sizes. System and assistant messages pass through untouched:
// assistant turns may be condensed tool output that downstream consumers
// need intact. When anything is truncated the interaction and its
// conversation slice are copied; the live conversation keeps the full text.
func truncateUserMessages(in *models.LLMInteraction, maxSize int) *models.LLMInteraction {
	if in == nil || maxSize <= 0 {
		return in
	}

	oversized := false
	for _, msg := range in.Conversation {
		if msg.Role == models.RoleUser && len(msg.Content) > maxSize {
			oversized = true
			break
		}
	}
	if !oversized {
		return in
	}

	out := *in
	out.Conversation = make([]models.ConversationMessage, len(in.Conversation))
	copy(out.Conversation, in.Conversation)
	for i, msg := range out.Conversation {
		if msg.Role == models.RoleUser && len(msg.Content) > maxSize {
			out.Conversation[i].Content = truncateContent(msg.Content, maxSize)
		}
	}
	return &out
}

func truncateContent(content string, maxSize int) string {
	if len(content) <= maxSize {
		return content
	}
	cut := maxSize
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	kept := content[:cut]
	return kept + fmt.Sprintf("[HOOK TRUNCATED - Original size: %d chars, Hook size: %d chars]",
		len(content), len(kept))
}
