package events

// BasePayload carries the fields common to every envelope.
type BasePayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// LLMInteractionPayload is the envelope for llm_interaction events.
// Published on the session channel when an LLM call is captured.
type LLMInteractionPayload struct {
	BasePayload
	InteractionID    string  `json:"interaction_id"`
	StageExecutionID *string `json:"stage_execution_id,omitempty"`
	Provider         string  `json:"provider"`
	ModelName        string  `json:"model_name"`
	StepDescription  string  `json:"step_description,omitempty"`
	InteractionType  string  `json:"interaction_type"`
	Success          bool    `json:"success"`
	DurationMS       *int    `json:"duration_ms,omitempty"`
}

// LLMStreamChunkPayload is the envelope for llm.stream_chunk events.
// Published per delta on the session channel while an LLM response streams.
// Clients concatenate deltas locally and correlate them to the
// llm_interaction record via InteractionID.
type LLMStreamChunkPayload struct {
	BasePayload
	InteractionID    string  `json:"interaction_id"`
	StageExecutionID *string `json:"stage_execution_id,omitempty"`
	ChunkType        string  `json:"chunk_type"` // thinking | response
	Delta            string  `json:"delta,omitempty"`
	StreamStatus     string  `json:"stream_status"` // intermediate_response | final_answer
}

// MCPInteractionPayload is the envelope for mcp_interaction events.
// Published on the session channel when a tool call is captured.
type MCPInteractionPayload struct {
	BasePayload
	InteractionID    string  `json:"interaction_id"`
	StageExecutionID *string `json:"stage_execution_id,omitempty"`
	ServerName       string  `json:"server_name"`
	ToolName         *string `json:"tool_name,omitempty"`
	StepDescription  string  `json:"step_description,omitempty"`
	Success          bool    `json:"success"`
	DurationMS       *int    `json:"duration_ms,omitempty"`
}

// MCPToolListPayload is the envelope for mcp_tool_list events. Published
// when a tool catalogue fetch is captured.
type MCPToolListPayload struct {
	BasePayload
	InteractionID string `json:"interaction_id"`
	ServerName    string `json:"server_name,omitempty"`
	ToolCount     int    `json:"tool_count"`
	Success       bool   `json:"success"`
}

// SessionStatusChangePayload is the envelope for session_status_change
// events. Broadcast dual-channel: the session channel and dashboard_updates.
type SessionStatusChangePayload struct {
	BasePayload
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// StageEventPayload is the envelope for stage.started and stage.completed
// events on the session channel.
type StageEventPayload struct {
	BasePayload
	ExecutionID       string  `json:"execution_id"`
	ParentExecutionID *string `json:"parent_execution_id,omitempty"`
	StageName         string  `json:"stage_name"`
	StageIndex        int     `json:"stage_index"`
	StageID           string  `json:"stage_id"`
	Agent             string  `json:"agent"`
	Status            string  `json:"status"`
}

// SessionLifecyclePayload is the envelope for agent.cancelled,
// session.resumed, session.cancelled, and session.failed events.
type SessionLifecyclePayload struct {
	BasePayload
	Reason string `json:"reason,omitempty"`
}

// SystemHealthPayload is the envelope for system_health events on the
// system_health channel.
type SystemHealthPayload struct {
	BasePayload
	Status   string            `json:"status"` // healthy, degraded, unhealthy
	Services map[string]string `json:"services"`
}

// DashboardUpdatePayload is the envelope for dashboard-wide metric
// broadcasts on dashboard_updates.
type DashboardUpdatePayload struct {
	BasePayload
	Data map[string]any `json:"data"`
}

// BatchEnvelope wraps the messages a channel accumulated within one batch
// window.
type BatchEnvelope struct {
	Type     string `json:"type"` // always EventTypeMessageBatch
	Channel  string `json:"channel"`
	Count    int    `json:"count"`
	Messages []any  `json:"messages"`
}
