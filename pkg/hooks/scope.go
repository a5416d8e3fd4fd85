package hooks

import (
	"context"

	"github.com/google/uuid"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// newRequestID returns a short per-call correlation id.
func newRequestID() string {
	return "req-" + uuid.NewString()[:8]
}

// LLMScope captures one LLM call. Acquire it before the call, fill in the
// outcome, and Finish on every exit path (callers defer it). Finish stamps
// end time, duration, and success exactly once and fires the LLM hook
// registry; the caller's error is never swallowed.
type LLMScope struct {
	manager *Manager

	// Interaction is the capture template. Callers may set fields directly
	// (interaction type, conversation) before Finish.
	Interaction *models.LLMInteraction

	finished bool
}

// NewLLMScope begins capture of one LLM call, stamping start time and a
// fresh request id.
func (m *Manager) NewLLMScope(sessionID string, stageExecutionID *string, provider, modelName, stepDescription string) *LLMScope {
	now := models.NowUS()
	return &LLMScope{
		manager: m,
		Interaction: &models.LLMInteraction{
			InteractionID:    uuid.NewString(),
			SessionID:        sessionID,
			StageExecutionID: stageExecutionID,
			RequestID:        newRequestID(),
			Provider:         provider,
			ModelName:        modelName,
			TimestampUS:      now,
			StartTimeUS:      now,
			StepDescription:  stepDescription,
			InteractionType:  models.InteractionTypeNormal,
		},
	}
}

// CompleteSuccess records the call result on the template.
func (s *LLMScope) CompleteSuccess(conversation []models.ConversationMessage, usage *models.TokenUsage) {
	s.Interaction.Conversation = conversation
	s.Interaction.TokenUsage = usage
}

// Finish closes the scope and fires the LLM hooks. err is the wrapped
// call's outcome; nil means success. Idempotent, safe under defer.
func (s *LLMScope) Finish(ctx context.Context, err error) map[string]bool {
	if s.finished {
		return nil
	}
	s.finished = true
	s.Interaction.EndTimeUS, s.Interaction.DurationMS = closeTimes(s.Interaction.StartTimeUS)
	s.Interaction.Success = err == nil
	if err != nil {
		msg := err.Error()
		s.Interaction.ErrorMessage = &msg
	}
	return s.manager.TriggerLLMHooks(ctx, s.Interaction)
}

// MCPCallScope captures one tool-call operation.
type MCPCallScope struct {
	manager *Manager

	Interaction *models.MCPInteraction

	finished bool
}

// NewMCPCallScope begins capture of one tool call against a server.
func (m *Manager) NewMCPCallScope(sessionID string, stageExecutionID *string, serverName, toolName string, arguments map[string]any, stepDescription string) *MCPCallScope {
	now := models.NowUS()
	return &MCPCallScope{
		manager: m,
		Interaction: &models.MCPInteraction{
			InteractionID:     uuid.NewString(),
			SessionID:         sessionID,
			StageExecutionID:  stageExecutionID,
			RequestID:         newRequestID(),
			ServerName:        serverName,
			CommunicationType: models.CommunicationTypeToolCall,
			ToolName:          &toolName,
			ToolArguments:     arguments,
			TimestampUS:       now,
			StartTimeUS:       now,
			StepDescription:   stepDescription,
		},
	}
}

// CompleteSuccess records the tool result on the template.
func (s *MCPCallScope) CompleteSuccess(result map[string]any) {
	s.Interaction.ToolResult = result
}

// Finish closes the scope and fires the tool-call hooks.
func (s *MCPCallScope) Finish(ctx context.Context, err error) map[string]bool {
	if s.finished {
		return nil
	}
	s.finished = true
	s.Interaction.EndTimeUS, s.Interaction.DurationMS = closeTimes(s.Interaction.StartTimeUS)
	s.Interaction.Success = err == nil
	if err != nil {
		msg := err.Error()
		s.Interaction.ErrorMessage = &msg
	}
	return s.manager.TriggerMCPCallHooks(ctx, s.Interaction)
}

// MCPListScope captures one tool-list (catalogue) operation.
type MCPListScope struct {
	manager *Manager

	Interaction *models.MCPInteraction

	finished bool
}

// NewMCPListScope begins capture of a tool-catalogue fetch. serverName may
// be empty when listing across all of an agent's servers.
func (m *Manager) NewMCPListScope(sessionID string, stageExecutionID *string, serverName, stepDescription string) *MCPListScope {
	now := models.NowUS()
	return &MCPListScope{
		manager: m,
		Interaction: &models.MCPInteraction{
			InteractionID:     uuid.NewString(),
			SessionID:         sessionID,
			StageExecutionID:  stageExecutionID,
			RequestID:         newRequestID(),
			ServerName:        serverName,
			CommunicationType: models.CommunicationTypeToolList,
			TimestampUS:       now,
			StartTimeUS:       now,
			StepDescription:   stepDescription,
		},
	}
}

// CompleteSuccess records the available tools on the template.
func (s *MCPListScope) CompleteSuccess(tools []models.MCPToolInfo) {
	s.Interaction.AvailableTools = tools
}

// Finish closes the scope and fires the tool-list hooks.
func (s *MCPListScope) Finish(ctx context.Context, err error) map[string]bool {
	if s.finished {
		return nil
	}
	s.finished = true
	s.Interaction.EndTimeUS, s.Interaction.DurationMS = closeTimes(s.Interaction.StartTimeUS)
	s.Interaction.Success = err == nil
	if err != nil {
		msg := err.Error()
		s.Interaction.ErrorMessage = &msg
	}
	return s.manager.TriggerMCPListHooks(ctx, s.Interaction)
}

// StageScope fires the stage-execution hooks on exit. The caller owns the
// row and mutates it outside the scope; hooks distinguish create from
// update by whether started_at_us is nil. Rows must carry their execution
// id before the scope fires so all captors agree on identity.
type StageScope struct {
	manager   *Manager
	execution *models.StageExecution
	finished  bool
}

// NewStageScope wraps one stage-execution transition.
func (m *Manager) NewStageScope(execution *models.StageExecution) *StageScope {
	return &StageScope{manager: m, execution: execution}
}

// Finish fires the stage hooks with the row's current state. Idempotent.
func (s *StageScope) Finish(ctx context.Context) map[string]bool {
	if s.finished {
		return nil
	}
	s.finished = true
	return s.manager.TriggerStageHooks(ctx, s.execution)
}

// closeTimes returns the end timestamp and the duration derived from the
// recorded start.
func closeTimes(startUS int64) (*int64, *int) {
	end := models.NowUS()
	d := int((end - startUS) / 1000)
	return &end, &d
}
