package slack

import (
	"context"
	"log/slog"
	"time"
)

// Post timeouts. The terminal notification gets a longer budget because it
// may carry a large analysis body.
const (
	startPostTimeout    = 5 * time.Second
	terminalPostTimeout = 10 * time.Second
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// SessionStartedInput carries the data for a session start notification.
type SessionStartedInput struct {
	SessionID               string
	AlertType               string
	SlackMessageFingerprint string
}

// SessionCompletedInput carries the data for a terminal session
// notification.
type SessionCompletedInput struct {
	SessionID               string
	AlertType               string
	Status                  string // completed, failed, timed_out, cancelled
	ExecutiveSummary        string
	FinalAnalysis           string
	ErrorMessage            string
	SlackMessageFingerprint string
	ThreadTS                string // resolved by the start notification
}

// Service delivers session notifications. Nil-safe: every method no-ops on
// a nil receiver, so callers never guard the disabled case. Delivery is
// fail-open; a Slack outage must never affect session processing.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a notification service, or nil when the token or
// channel is missing (notifications disabled).
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), cfg.DashboardURL)
}

// NewServiceWithClient creates a Service backed by a pre-built Client, for
// tests with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifySessionStarted posts a "processing started" reply threaded onto
// the originating message. Only Slack-sourced alerts carry a fingerprint;
// everything else is skipped. Returns the resolved thread timestamp for
// reuse by the terminal notification.
func (s *Service) NotifySessionStarted(ctx context.Context, input SessionStartedInput) string {
	if s == nil || input.SlackMessageFingerprint == "" {
		return ""
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, input.SlackMessageFingerprint)
	if err != nil {
		s.logger.Warn("Failed to find Slack thread for fingerprint",
			"session_id", input.SessionID,
			"fingerprint", input.SlackMessageFingerprint,
			"error", err)
	}

	blocks := BuildStartedMessage(input.SessionID, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, startPostTimeout); err != nil {
		s.logger.Error("Failed to send Slack start notification",
			"session_id", input.SessionID,
			"error", err)
	}
	return threadTS
}

// NotifySessionCompleted posts the outcome notification, re-resolving the
// thread when the start notification did not run.
func (s *Service) NotifySessionCompleted(ctx context.Context, input SessionCompletedInput) {
	if s == nil {
		return
	}

	threadTS := input.ThreadTS
	if threadTS == "" && input.SlackMessageFingerprint != "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, input.SlackMessageFingerprint)
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for fingerprint",
				"session_id", input.SessionID,
				"fingerprint", input.SlackMessageFingerprint,
				"error", err)
		}
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, terminalPostTimeout); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"session_id", input.SessionID,
			"status", input.Status,
			"error", err)
	}
}
