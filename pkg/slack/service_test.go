package slack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewService_DisabledWithoutCredentials(t *testing.T) {
	assert.Nil(t, NewService(ServiceConfig{Token: "", Channel: "C123"}))
	assert.Nil(t, NewService(ServiceConfig{Token: "xoxb-test", Channel: ""}))
	assert.NotNil(t, NewService(ServiceConfig{
		Token:        "xoxb-test",
		Channel:      "C123",
		DashboardURL: "https://example.com",
	}))
}

func TestService_NilReceiverIsNoOp(t *testing.T) {
	var s *Service

	ts := s.NotifySessionStarted(context.Background(), SessionStartedInput{
		SessionID:               "sess-1",
		SlackMessageFingerprint: "test fingerprint",
	})
	assert.Empty(t, ts)

	// Must not panic.
	s.NotifySessionCompleted(context.Background(), SessionCompletedInput{
		SessionID: "sess-1",
		Status:    "completed",
	})
}

func TestNotifySessionStarted_SkipsWithoutFingerprint(t *testing.T) {
	// No fingerprint means the alert did not originate in Slack; the start
	// notification is suppressed without any API traffic.
	svc := NewService(ServiceConfig{
		Token:        "xoxb-test",
		Channel:      "C123",
		DashboardURL: "https://example.com",
	})

	ts := svc.NotifySessionStarted(context.Background(), SessionStartedInput{SessionID: "sess-1"})
	assert.Empty(t, ts)
}
