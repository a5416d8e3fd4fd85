package models

import "encoding/json"

// StageStatus is the lifecycle state of one stage-execution attempt.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusPaused    StageStatus = "paused"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusTimedOut  StageStatus = "timed_out"
	StageStatusCancelled StageStatus = "cancelled"
	StageStatusPartial   StageStatus = "partial"
)

// IsTerminal reports whether the stage attempt has finished.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageStatusCompleted, StageStatusFailed, StageStatusTimedOut, StageStatusCancelled, StageStatusPartial:
		return true
	}
	return false
}

// ParallelType distinguishes the two fan-out shapes of a parallel stage.
type ParallelType string

const (
	ParallelTypeMultiAgent ParallelType = "multi_agent"
	ParallelTypeReplica    ParallelType = "replica"
)

// StageExecution is the in-memory stage-execution row threaded through the
// hook fabric. The started_at_us nil predicate is how stage hooks distinguish
// "create new row" from "update existing row"; rows are identity-stable for
// the lifetime of the attempt.
type StageExecution struct {
	ExecutionID            string         `json:"execution_id"`
	SessionID              string         `json:"session_id"`
	ParentStageExecutionID *string        `json:"parent_stage_execution_id,omitempty"`
	StageName              string         `json:"stage_name"`
	StageIndex             int            `json:"stage_index"`
	StageID                string         `json:"stage_id"`
	Agent                  string         `json:"agent"`
	Status                 StageStatus    `json:"status"`
	StartedAtUS            *int64         `json:"started_at_us,omitempty"`
	CompletedAtUS          *int64         `json:"completed_at_us,omitempty"`
	PausedAtUS             *int64         `json:"paused_at_us,omitempty"`
	DurationMS             *int           `json:"duration_ms,omitempty"`
	ErrorMessage           *string        `json:"error_message,omitempty"`
	StageOutput            map[string]any `json:"stage_output,omitempty"`
	ExecutionConfig        map[string]any `json:"execution_config,omitempty"`
}

// AgentExecutionResult is the outcome of one agent attempt within a stage.
type AgentExecutionResult struct {
	Status                      StageStatus           `json:"status"`
	AgentName                   string                `json:"agent_name"`
	StageName                   string                `json:"stage_name"`
	TimestampUS                 int64                 `json:"timestamp_us"`
	ResultSummary               string                `json:"result_summary"`
	ErrorMessage                *string               `json:"error_message,omitempty"`
	CompleteConversationHistory []ConversationMessage `json:"complete_conversation_history,omitempty"`
}

// AgentExecutionMetadata describes one child of a parallel stage for the
// aggregation record stored on the parent row.
type AgentExecutionMetadata struct {
	AgentName         string      `json:"agent_name"`
	LLMProvider       string      `json:"llm_provider,omitempty"`
	IterationStrategy string      `json:"iteration_strategy,omitempty"`
	Status            StageStatus `json:"status"`
	Error             *string     `json:"error,omitempty"`
	TokenUsage        *TokenUsage `json:"token_usage,omitempty"`
}

// ParallelStageMetadata is the aggregation record a parallel stage stores in
// the parent row's stage_output.
type ParallelStageMetadata struct {
	ParentStageExecutionID string                   `json:"parent_stage_execution_id"`
	ParallelType           ParallelType             `json:"parallel_type"`
	SuccessPolicy          string                   `json:"success_policy"`
	StartedAtUS            int64                    `json:"started_at_us"`
	CompletedAtUS          int64                    `json:"completed_at_us"`
	Agents                 []AgentExecutionMetadata `json:"agents"`
}

// ParallelStageResult is the value a parallel stage contributes to the chain
// context: all child results plus the aggregation metadata. Synthesis is set
// when the stage declared a synthesis block and the synthesis agent ran.
type ParallelStageResult struct {
	StageName   string                 `json:"stage_name"`
	Results     []AgentExecutionResult `json:"results"`
	Synthesis   *AgentExecutionResult  `json:"synthesis,omitempty"`
	Metadata    ParallelStageMetadata  `json:"metadata"`
	Status      StageStatus            `json:"status"`
	TimestampUS int64                  `json:"timestamp_us"`
}

// StageOutput is the union stored per stage in the chain context: exactly one
// of Agent or Parallel is set.
type StageOutput struct {
	Agent    *AgentExecutionResult `json:"agent,omitempty"`
	Parallel *ParallelStageResult  `json:"parallel,omitempty"`
}

// Status returns the stage-level status of whichever variant is set.
func (o StageOutput) Status() StageStatus {
	if o.Parallel != nil {
		return o.Parallel.Status
	}
	if o.Agent != nil {
		return o.Agent.Status
	}
	return StageStatusPending
}

// StageOutputEntry pairs a stage key with its output, preserving chain order.
type StageOutputEntry struct {
	Key    string      `json:"key"`
	Output StageOutput `json:"output"`
}

// ChainContext is the cumulative in-memory state threaded across stages of
// one chain run. Stage outputs are append-only and iteration preserves
// insertion order.
type ChainContext struct {
	SessionID        string              `json:"session_id"`
	CurrentStageName string              `json:"current_stage_name"`
	ProcessingAlert  Alert               `json:"processing_alert"`
	StageOutputs     []StageOutputEntry  `json:"stage_outputs"`
	ChatContext      *ChatContext        `json:"chat_context,omitempty"`
	MCP              *MCPSelectionConfig `json:"mcp,omitempty"`
}

// AppendStageOutput records a stage result under its chain-definition key.
func (c *ChainContext) AppendStageOutput(key string, out StageOutput) {
	c.StageOutputs = append(c.StageOutputs, StageOutputEntry{Key: key, Output: out})
}

// StageOutput returns the recorded output for a stage key.
func (c *ChainContext) StageOutput(key string) (StageOutput, bool) {
	for _, e := range c.StageOutputs {
		if e.Key == key {
			return e.Output, true
		}
	}
	return StageOutput{}, false
}

// ChatMessage is one turn of an interactive chat exchange.
type ChatMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	TimestampUS int64  `json:"timestamp_us"`
}

// ChatContext carries the interactive exchange that resumes a paused chat
// stage. Its presence marks a stage as a chat-context stage.
type ChatContext struct {
	Messages []ChatMessage `json:"messages"`
}

// LatestUserMessage returns the most recent user turn, or "".
func (c *ChatContext) LatestUserMessage() string {
	if c == nil {
		return ""
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// AsMap renders the output as the JSON object persisted in the stage row's
// stage_output column.
func (o StageOutput) AsMap() (map[string]any, error) {
	return toMap(o)
}

// StageOutputFromMap rebuilds a StageOutput from a persisted stage row, the
// inverse of AsMap. Chain continuation uses it to restore earlier stage
// results after a pause.
func StageOutputFromMap(m map[string]any) (*StageOutput, error) {
	var out StageOutput
	if err := fromMap(m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatContextFromMap rebuilds chat state from the session row's chat_context
// column. A nil or empty map yields nil.
func ChatContextFromMap(m map[string]any) (*ChatContext, error) {
	if len(m) == 0 {
		return nil, nil
	}
	var chat ChatContext
	if err := fromMap(m, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any, v any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
