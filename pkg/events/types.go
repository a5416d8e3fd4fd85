// Package events provides the real-time broadcast fabric: per-user WebSocket
// connections, per-channel subscriptions, optional batching, and per-user
// throttling. Delivery is best-effort over live connections; durability is
// the history store's job.
package events

import (
	"errors"
	"strings"
)

// ErrNotConnected reports a direct send to a user with no live connection.
var ErrNotConnected = errors.New("user not connected")

// Envelope types. Every message carries one of these in its "type" field.
const (
	EventTypeLLMInteraction      = "llm_interaction"
	EventTypeLLMStreamChunk      = "llm.stream_chunk"
	EventTypeMCPInteraction      = "mcp_interaction"
	EventTypeMCPToolList         = "mcp_tool_list"
	EventTypeSessionStatusChange = "session_status_change"
	EventTypeStageStarted        = "stage.started"
	EventTypeStageCompleted      = "stage.completed"
	EventTypeAgentCancelled      = "agent.cancelled"
	EventTypeSessionResumed      = "session.resumed"
	EventTypeSessionCancelled    = "session.cancelled"
	EventTypeSessionFailed       = "session.failed"
	EventTypeSystemHealth        = "system_health"
	EventTypeDashboardUpdate     = "dashboard_update"
	EventTypeMessageBatch        = "message_batch"
)

// Stream status markers on llm.stream_chunk envelopes. Every delta goes out
// as intermediate_response; a completed stream is closed by exactly one
// final_answer marker.
const (
	StreamStatusIntermediate = "intermediate_response"
	StreamStatusFinal        = "final_answer"
)

// Broadcast channels.
const (
	// ChannelDashboardUpdates carries fleet-wide session lifecycle and
	// metrics envelopes. The session list page subscribes here.
	ChannelDashboardUpdates = "dashboard_updates"

	// ChannelSystemHealth carries service health transitions.
	ChannelSystemHealth = "system_health"

	// sessionChannelPrefix prefixes per-session channels.
	sessionChannelPrefix = "session_"
)

// SessionChannel returns the per-session channel name.
func SessionChannel(sessionID string) string {
	return sessionChannelPrefix + sessionID
}

// ValidChannel reports whether a client may subscribe to the channel.
func ValidChannel(channel string) bool {
	switch channel {
	case ChannelDashboardUpdates, ChannelSystemHealth:
		return true
	}
	return strings.HasPrefix(channel, sessionChannelPrefix) &&
		len(channel) > len(sessionChannelPrefix)
}

// ClientMessage is the JSON structure for client to server WebSocket
// messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // channel name (e.g., "session_abc-123")
}

// SubscriptionResponse answers a subscribe or unsubscribe request. The
// client's subscription state only changes when Success is true.
type SubscriptionResponse struct {
	Type    string `json:"type"` // always "subscription_response"
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
