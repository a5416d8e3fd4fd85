package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Pod CRASHED in namespace", "pod crashed in namespace"},
		{"collapse whitespace", "pod   crashed\t\tin\n\nnamespace", "pod crashed in namespace"},
		{"trim", "  hello  ", "hello"},
		{"empty", "", ""},
		{"mixed", "  ALERT:   Pod   nginx-abc   OOMKilled  ", "alert: pod nginx-abc oomkilled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeText(tt.input))
		})
	}
}

func TestCollectMessageText(t *testing.T) {
	msg := goslack.Message{Msg: goslack.Msg{
		Text: "alert",
		Attachments: []goslack.Attachment{
			{Text: "pod crashed", Fallback: "pod crashed fallback"},
			{Fallback: "second fallback"},
		},
	}}
	assert.Equal(t, "alert pod crashed pod crashed fallback second fallback", collectMessageText(msg))

	assert.Empty(t, collectMessageText(goslack.Message{}))
	assert.Equal(t, "hello world", collectMessageText(goslack.Message{Msg: goslack.Msg{Text: "hello world"}}))
}
