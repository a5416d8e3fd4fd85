package slack

import (
	"strings"

	goslack "github.com/slack-go/slack"
)

// normalizeText lowercases and collapses whitespace runs so fingerprint
// matching survives Slack's reformatting of posted text.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// collectMessageText flattens a message's visible text: the body plus every
// attachment's text and fallback. A fingerprint may land in any of them
// depending on how the originating alert was posted.
func collectMessageText(msg goslack.Message) string {
	parts := make([]string, 0, 1+2*len(msg.Attachments))
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, att := range msg.Attachments {
		if att.Text != "" {
			parts = append(parts, att.Text)
		}
		if att.Fallback != "" {
			parts = append(parts, att.Fallback)
		}
	}
	return strings.Join(parts, " ")
}
