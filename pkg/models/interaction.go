package models

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// LLM interaction types.
const (
	InteractionTypeNormal           = "normal"
	InteractionTypeForcedConclusion = "forced_conclusion"
	InteractionTypeExecutiveSummary = "executive_summary"
)

// MCP communication types.
const (
	CommunicationTypeToolCall = "tool_call"
	CommunicationTypeToolList = "tool_list"
)

// ToolCall is a structured tool invocation requested by the LLM.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ConversationMessage is a single message in an LLM conversation.
type ConversationMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// TokenUsage is the token accounting for one or more LLM calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage record.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// LLMInteraction is one recorded LLM call as captured by the hook fabric.
type LLMInteraction struct {
	InteractionID    string                `json:"interaction_id"`
	SessionID        string                `json:"session_id"`
	StageExecutionID *string               `json:"stage_execution_id,omitempty"`
	RequestID        string                `json:"request_id"`
	Provider         string                `json:"provider"`
	ModelName        string                `json:"model_name"`
	Conversation     []ConversationMessage `json:"conversation"`
	TimestampUS      int64                 `json:"timestamp_us"`
	StartTimeUS      int64                 `json:"start_time_us"`
	EndTimeUS        *int64                `json:"end_time_us,omitempty"`
	DurationMS       *int                  `json:"duration_ms,omitempty"`
	Success          bool                  `json:"success"`
	ErrorMessage     *string               `json:"error_message,omitempty"`
	TokenUsage       *TokenUsage           `json:"token_usage,omitempty"`
	StepDescription  string                `json:"step_description,omitempty"`
	InteractionType  string                `json:"interaction_type"`
}

// MCPToolInfo is one entry of a persisted tool catalogue.
type MCPToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MCPInteraction is one recorded tool-server operation as captured by the
// hook fabric.
type MCPInteraction struct {
	InteractionID     string         `json:"interaction_id"`
	SessionID         string         `json:"session_id"`
	StageExecutionID  *string        `json:"stage_execution_id,omitempty"`
	RequestID         string         `json:"request_id"`
	ServerName        string         `json:"server_name"`
	CommunicationType string         `json:"communication_type"`
	ToolName          *string        `json:"tool_name,omitempty"`
	ToolArguments     map[string]any `json:"tool_arguments,omitempty"`
	ToolResult        map[string]any `json:"tool_result,omitempty"`
	AvailableTools    []MCPToolInfo  `json:"available_tools,omitempty"`
	TimestampUS       int64          `json:"timestamp_us"`
	StartTimeUS       int64          `json:"start_time_us"`
	EndTimeUS         *int64         `json:"end_time_us,omitempty"`
	DurationMS        *int           `json:"duration_ms,omitempty"`
	Success           bool           `json:"success"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	StepDescription   string         `json:"step_description,omitempty"`
}

// Timeline event types.
const (
	TimelineEventLLM = "llm"
	TimelineEventMCP = "mcp"
)

// TimelineEvent is one entry of a session's chronological timeline, merged
// from LLM and MCP interactions and ordered by microsecond timestamp.
type TimelineEvent struct {
	EventType        string  `json:"event_type"`
	InteractionID    string  `json:"interaction_id"`
	StageExecutionID *string `json:"stage_execution_id,omitempty"`
	TimestampUS      int64   `json:"timestamp_us"`
	StepDescription  string  `json:"step_description,omitempty"`
	DurationMS       *int    `json:"duration_ms,omitempty"`
	Success          bool    `json:"success"`
	Details          any     `json:"details,omitempty"`
}
