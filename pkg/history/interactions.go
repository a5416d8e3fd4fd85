package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/ent/llminteraction"
	"github.com/tarsy-bot/tarsy/ent/mcpinteraction"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// StoreLLMInteraction appends one captured LLM call.
func (s *Service) StoreLLMInteraction(ctx context.Context, in *models.LLMInteraction) (bool, error) {
	if !s.Active() {
		s.skip("store_llm_interaction")
		return false, nil
	}
	if in.SessionID == "" {
		return false, NewValidationError("session_id", "required")
	}

	id := in.InteractionID
	if id == "" {
		id = uuid.New().String()
	}

	err := s.withRetry(ctx, "store_llm_interaction", func(ctx context.Context) error {
		builder := s.client.LLMInteraction.Create().
			SetID(id).
			SetSessionID(in.SessionID).
			SetNillableStageExecutionID(in.StageExecutionID).
			SetRequestID(in.RequestID).
			SetProvider(in.Provider).
			SetModelName(in.ModelName).
			SetConversation(in.Conversation).
			SetTimestampUs(in.TimestampUS).
			SetStartTimeUs(in.StartTimeUS).
			SetNillableEndTimeUs(in.EndTimeUS).
			SetNillableDurationMs(in.DurationMS).
			SetSuccess(in.Success).
			SetNillableErrorMessage(in.ErrorMessage).
			SetStepDescription(in.StepDescription)
		if in.TokenUsage != nil {
			builder.SetTokenUsage(in.TokenUsage)
		}
		if in.InteractionType != "" {
			builder.SetInteractionType(llminteraction.InteractionType(in.InteractionType))
		}
		if _, err := builder.Save(ctx); err != nil {
			if ent.IsConstraintError(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to store LLM interaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// StoreMCPInteraction appends one captured tool-server operation.
func (s *Service) StoreMCPInteraction(ctx context.Context, in *models.MCPInteraction) (bool, error) {
	if !s.Active() {
		s.skip("store_mcp_interaction")
		return false, nil
	}
	if in.SessionID == "" {
		return false, NewValidationError("session_id", "required")
	}

	id := in.InteractionID
	if id == "" {
		id = uuid.New().String()
	}

	err := s.withRetry(ctx, "store_mcp_interaction", func(ctx context.Context) error {
		builder := s.client.MCPInteraction.Create().
			SetID(id).
			SetSessionID(in.SessionID).
			SetNillableStageExecutionID(in.StageExecutionID).
			SetRequestID(in.RequestID).
			SetServerName(in.ServerName).
			SetCommunicationType(mcpinteraction.CommunicationType(in.CommunicationType)).
			SetNillableToolName(in.ToolName).
			SetTimestampUs(in.TimestampUS).
			SetStartTimeUs(in.StartTimeUS).
			SetNillableEndTimeUs(in.EndTimeUS).
			SetNillableDurationMs(in.DurationMS).
			SetSuccess(in.Success).
			SetNillableErrorMessage(in.ErrorMessage).
			SetStepDescription(in.StepDescription)
		if in.ToolArguments != nil {
			builder.SetToolArguments(in.ToolArguments)
		}
		if in.ToolResult != nil {
			builder.SetToolResult(in.ToolResult)
		}
		if in.AvailableTools != nil {
			builder.SetAvailableTools(in.AvailableTools)
		}
		if _, err := builder.Save(ctx); err != nil {
			if ent.IsConstraintError(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to store MCP interaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetSessionTimeline merges a session's LLM and MCP interactions into one
// list ordered by microsecond timestamp.
func (s *Service) GetSessionTimeline(ctx context.Context, sessionID string) ([]models.TimelineEvent, error) {
	if !s.Active() {
		s.skip("get_session_timeline")
		return []models.TimelineEvent{}, nil
	}

	llms, err := s.client.LLMInteraction.Query().
		Where(llminteraction.SessionIDEQ(sessionID)).
		Order(ent.Asc(llminteraction.FieldTimestampUs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query LLM interactions: %w", err)
	}

	mcps, err := s.client.MCPInteraction.Query().
		Where(mcpinteraction.SessionIDEQ(sessionID)).
		Order(ent.Asc(mcpinteraction.FieldTimestampUs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query MCP interactions: %w", err)
	}

	events := make([]models.TimelineEvent, 0, len(llms)+len(mcps))
	for _, in := range llms {
		events = append(events, models.TimelineEvent{
			EventType:        models.TimelineEventLLM,
			InteractionID:    in.ID,
			StageExecutionID: in.StageExecutionID,
			TimestampUS:      in.TimestampUs,
			StepDescription:  in.StepDescription,
			DurationMS:       in.DurationMs,
			Success:          in.Success,
			Details:          toLLMInteraction(in),
		})
	}
	for _, in := range mcps {
		events = append(events, models.TimelineEvent{
			EventType:        models.TimelineEventMCP,
			InteractionID:    in.ID,
			StageExecutionID: in.StageExecutionID,
			TimestampUS:      in.TimestampUs,
			StepDescription:  in.StepDescription,
			DurationMS:       in.DurationMs,
			Success:          in.Success,
			Details:          toMCPInteraction(in),
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampUS < events[j].TimestampUS
	})
	return events, nil
}

// GetLLMInteractions returns a session's LLM calls in chronological order.
func (s *Service) GetLLMInteractions(ctx context.Context, sessionID string) ([]models.LLMInteraction, error) {
	if !s.Active() {
		s.skip("get_llm_interactions")
		return nil, nil
	}

	rows, err := s.client.LLMInteraction.Query().
		Where(llminteraction.SessionIDEQ(sessionID)).
		Order(ent.Asc(llminteraction.FieldTimestampUs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query LLM interactions: %w", err)
	}

	out := make([]models.LLMInteraction, 0, len(rows))
	for _, in := range rows {
		out = append(out, toLLMInteraction(in))
	}
	return out, nil
}

// GetMCPInteractions returns a session's tool operations in chronological
// order.
func (s *Service) GetMCPInteractions(ctx context.Context, sessionID string) ([]models.MCPInteraction, error) {
	if !s.Active() {
		s.skip("get_mcp_interactions")
		return nil, nil
	}

	rows, err := s.client.MCPInteraction.Query().
		Where(mcpinteraction.SessionIDEQ(sessionID)).
		Order(ent.Asc(mcpinteraction.FieldTimestampUs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query MCP interactions: %w", err)
	}

	out := make([]models.MCPInteraction, 0, len(rows))
	for _, in := range rows {
		out = append(out, toMCPInteraction(in))
	}
	return out, nil
}

func toLLMInteraction(in *ent.LLMInteraction) models.LLMInteraction {
	out := models.LLMInteraction{
		InteractionID:    in.ID,
		SessionID:        in.SessionID,
		StageExecutionID: in.StageExecutionID,
		RequestID:        in.RequestID,
		Provider:         in.Provider,
		ModelName:        in.ModelName,
		Conversation:     in.Conversation,
		TimestampUS:      in.TimestampUs,
		StartTimeUS:      in.StartTimeUs,
		EndTimeUS:        in.EndTimeUs,
		DurationMS:       in.DurationMs,
		Success:          in.Success,
		ErrorMessage:     in.ErrorMessage,
		StepDescription:  in.StepDescription,
		InteractionType:  string(in.InteractionType),
	}
	if in.TokenUsage != nil {
		out.TokenUsage = in.TokenUsage
	}
	return out
}

func toMCPInteraction(in *ent.MCPInteraction) models.MCPInteraction {
	return models.MCPInteraction{
		InteractionID:     in.ID,
		SessionID:         in.SessionID,
		StageExecutionID:  in.StageExecutionID,
		RequestID:         in.RequestID,
		ServerName:        in.ServerName,
		CommunicationType: string(in.CommunicationType),
		ToolName:          in.ToolName,
		ToolArguments:     in.ToolArguments,
		ToolResult:        in.ToolResult,
		AvailableTools:    in.AvailableTools,
		TimestampUS:       in.TimestampUs,
		StartTimeUS:       in.StartTimeUs,
		EndTimeUS:         in.EndTimeUs,
		DurationMS:        in.DurationMs,
		Success:           in.Success,
		ErrorMessage:      in.ErrorMessage,
		StepDescription:   in.StepDescription,
	}
}
