package events

import (
	"fmt"
	"time"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// Publisher turns captured records into typed envelopes and routes them
// through the broadcast fabric. A nil Publisher drops everything, so call
// sites never need to special-case a disabled fabric.
type Publisher struct {
	broadcaster *Broadcaster
}

// NewPublisher wraps a broadcaster.
func NewPublisher(b *Broadcaster) *Publisher {
	return &Publisher{broadcaster: b}
}

func (p *Publisher) enabled() bool {
	return p != nil && p.broadcaster != nil
}

func basePayload(eventType, sessionID string) BasePayload {
	return BasePayload{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// PublishLLMInteraction announces one captured LLM call on the session
// channel. Conversation bodies stay out of the envelope; subscribers fetch
// detail from the history API.
func (p *Publisher) PublishLLMInteraction(interaction *models.LLMInteraction) error {
	if !p.enabled() {
		return nil
	}
	if interaction.SessionID == "" {
		return fmt.Errorf("llm interaction %s has no session id", interaction.InteractionID)
	}
	payload := LLMInteractionPayload{
		BasePayload:      basePayload(EventTypeLLMInteraction, interaction.SessionID),
		InteractionID:    interaction.InteractionID,
		StageExecutionID: interaction.StageExecutionID,
		Provider:         interaction.Provider,
		ModelName:        interaction.ModelName,
		StepDescription:  interaction.StepDescription,
		InteractionType:  interaction.InteractionType,
		Success:          interaction.Success,
		DurationMS:       interaction.DurationMS,
	}
	p.broadcaster.Publish(SessionChannel(interaction.SessionID), payload)
	return nil
}

// PublishLLMStreamChunk forwards one streamed delta of an in-flight LLM
// response on the session channel. chunkType is "thinking" or "response";
// streamStatus is StreamStatusIntermediate for deltas and StreamStatusFinal
// for the single end-of-stream marker.
func (p *Publisher) PublishLLMStreamChunk(sessionID, interactionID string, stageExecutionID *string, chunkType, delta, streamStatus string) error {
	if !p.enabled() {
		return nil
	}
	payload := LLMStreamChunkPayload{
		BasePayload:      basePayload(EventTypeLLMStreamChunk, sessionID),
		InteractionID:    interactionID,
		StageExecutionID: stageExecutionID,
		ChunkType:        chunkType,
		Delta:            delta,
		StreamStatus:     streamStatus,
	}
	p.broadcaster.Publish(SessionChannel(sessionID), payload)
	return nil
}

// PublishMCPInteraction announces one captured tool call on the session
// channel.
func (p *Publisher) PublishMCPInteraction(interaction *models.MCPInteraction) error {
	if !p.enabled() {
		return nil
	}
	if interaction.SessionID == "" {
		return fmt.Errorf("mcp interaction %s has no session id", interaction.InteractionID)
	}
	payload := MCPInteractionPayload{
		BasePayload:      basePayload(EventTypeMCPInteraction, interaction.SessionID),
		InteractionID:    interaction.InteractionID,
		StageExecutionID: interaction.StageExecutionID,
		ServerName:       interaction.ServerName,
		ToolName:         interaction.ToolName,
		StepDescription:  interaction.StepDescription,
		Success:          interaction.Success,
		DurationMS:       interaction.DurationMS,
	}
	p.broadcaster.Publish(SessionChannel(interaction.SessionID), payload)
	return nil
}

// PublishMCPToolList announces one captured tool catalogue fetch on the
// session channel.
func (p *Publisher) PublishMCPToolList(interaction *models.MCPInteraction) error {
	if !p.enabled() {
		return nil
	}
	if interaction.SessionID == "" {
		return fmt.Errorf("mcp tool list %s has no session id", interaction.InteractionID)
	}
	payload := MCPToolListPayload{
		BasePayload:   basePayload(EventTypeMCPToolList, interaction.SessionID),
		InteractionID: interaction.InteractionID,
		ServerName:    interaction.ServerName,
		ToolCount:     len(interaction.AvailableTools),
		Success:       interaction.Success,
	}
	p.broadcaster.Publish(SessionChannel(interaction.SessionID), payload)
	return nil
}

// PublishSessionStatusChange announces a session status transition on both
// the session channel and dashboard_updates.
func (p *Publisher) PublishSessionStatusChange(sessionID, status string, errorMessage *string) error {
	if !p.enabled() {
		return nil
	}
	if sessionID == "" {
		return fmt.Errorf("status change to %q has no session id", status)
	}
	payload := SessionStatusChangePayload{
		BasePayload:  basePayload(EventTypeSessionStatusChange, sessionID),
		Status:       status,
		ErrorMessage: errorMessage,
	}
	p.broadcaster.BroadcastSessionStatusChange(sessionID, payload)
	return nil
}

// PublishStageStarted announces a stage execution entering its run on the
// session channel.
func (p *Publisher) PublishStageStarted(execution *models.StageExecution) error {
	return p.publishStageEvent(EventTypeStageStarted, execution)
}

// PublishStageCompleted announces a stage execution reaching a terminal
// state on the session channel.
func (p *Publisher) PublishStageCompleted(execution *models.StageExecution) error {
	return p.publishStageEvent(EventTypeStageCompleted, execution)
}

func (p *Publisher) publishStageEvent(eventType string, execution *models.StageExecution) error {
	if !p.enabled() {
		return nil
	}
	if execution.SessionID == "" {
		return fmt.Errorf("stage execution %s has no session id", execution.ExecutionID)
	}
	payload := StageEventPayload{
		BasePayload:       basePayload(eventType, execution.SessionID),
		ExecutionID:       execution.ExecutionID,
		ParentExecutionID: execution.ParentStageExecutionID,
		StageName:         execution.StageName,
		StageIndex:        execution.StageIndex,
		StageID:           execution.StageID,
		Agent:             execution.Agent,
		Status:            string(execution.Status),
	}
	p.broadcaster.Publish(SessionChannel(execution.SessionID), payload)
	return nil
}

// PublishSessionLifecycle announces a cancellation, pause resume, or
// failure transition on the session channel. The event type must be one of
// the lifecycle envelope types.
func (p *Publisher) PublishSessionLifecycle(eventType, sessionID, reason string) error {
	if !p.enabled() {
		return nil
	}
	switch eventType {
	case EventTypeAgentCancelled, EventTypeSessionResumed, EventTypeSessionCancelled, EventTypeSessionFailed:
	default:
		return fmt.Errorf("unknown lifecycle event type %q", eventType)
	}
	if sessionID == "" {
		return fmt.Errorf("lifecycle event %q has no session id", eventType)
	}
	payload := SessionLifecyclePayload{
		BasePayload: basePayload(eventType, sessionID),
		Reason:      reason,
	}
	p.broadcaster.Publish(SessionChannel(sessionID), payload)
	return nil
}

// PublishSystemHealth announces a service health snapshot on the
// system_health channel.
func (p *Publisher) PublishSystemHealth(status string, services map[string]string) error {
	if !p.enabled() {
		return nil
	}
	payload := SystemHealthPayload{
		BasePayload: basePayload(EventTypeSystemHealth, ""),
		Status:      status,
		Services:    services,
	}
	p.broadcaster.Publish(ChannelSystemHealth, payload)
	return nil
}

// PublishDashboardUpdate announces fleet-wide metrics on dashboard_updates.
func (p *Publisher) PublishDashboardUpdate(data map[string]any) error {
	if !p.enabled() {
		return nil
	}
	payload := DashboardUpdatePayload{
		BasePayload: basePayload(EventTypeDashboardUpdate, ""),
		Data:        data,
	}
	p.broadcaster.Publish(ChannelDashboardUpdates, payload)
	return nil
}
