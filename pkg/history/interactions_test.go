package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

func TestService_StoreInteractions(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	sessionID := createTestSession(t, service, nil)
	execID, err := service.CreateStageExecution(ctx, &models.StageExecution{
		SessionID:  sessionID,
		StageName:  "investigation",
		StageIndex: 0,
		StageID:    "investigation",
		Agent:      "KubernetesAgent",
		Status:     models.StageStatusActive,
	})
	require.NoError(t, err)

	t.Run("stores llm interaction with conversation and usage", func(t *testing.T) {
		now := models.NowUS()
		duration := 1200
		ok, err := service.StoreLLMInteraction(ctx, &models.LLMInteraction{
			SessionID:        sessionID,
			StageExecutionID: &execID,
			RequestID:        "req-1",
			Provider:         "google-default",
			ModelName:        "gemini-2.5-pro",
			Conversation: []models.ConversationMessage{
				{Role: models.RoleSystem, Content: "You are an SRE assistant."},
				{Role: models.RoleUser, Content: "Why is the pod crash looping?"},
				{Role: models.RoleAssistant, Content: "Checking events now."},
			},
			TimestampUS:     now,
			StartTimeUS:     now,
			DurationMS:      &duration,
			Success:         true,
			TokenUsage:      &models.TokenUsage{InputTokens: 120, OutputTokens: 40, TotalTokens: 160},
			StepDescription: "initial analysis",
			InteractionType: models.InteractionTypeNormal,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		rows, err := service.GetLLMInteractions(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "gemini-2.5-pro", rows[0].ModelName)
		assert.Len(t, rows[0].Conversation, 3)
		require.NotNil(t, rows[0].TokenUsage)
		assert.Equal(t, 160, rows[0].TokenUsage.TotalTokens)
		assert.Equal(t, models.InteractionTypeNormal, rows[0].InteractionType)
		require.NotNil(t, rows[0].StageExecutionID)
		assert.Equal(t, execID, *rows[0].StageExecutionID)
	})

	t.Run("stores mcp tool call and tool list", func(t *testing.T) {
		now := models.NowUS()
		tool := "pods_list"
		ok, err := service.StoreMCPInteraction(ctx, &models.MCPInteraction{
			SessionID:         sessionID,
			StageExecutionID:  &execID,
			RequestID:         "req-2",
			ServerName:        "kubernetes-server",
			CommunicationType: models.CommunicationTypeToolCall,
			ToolName:          &tool,
			ToolArguments:     map[string]any{"namespace": "prod"},
			ToolResult:        map[string]any{"result": "3 pods"},
			TimestampUS:       now,
			StartTimeUS:       now,
			Success:           true,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = service.StoreMCPInteraction(ctx, &models.MCPInteraction{
			SessionID:         sessionID,
			RequestID:         "req-3",
			ServerName:        "kubernetes-server",
			CommunicationType: models.CommunicationTypeToolList,
			AvailableTools: []models.MCPToolInfo{
				{Name: "pods_list", Description: "List pods"},
				{Name: "events_list"},
			},
			TimestampUS: models.NowUS(),
			StartTimeUS: models.NowUS(),
			Success:     true,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		rows, err := service.GetMCPInteractions(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, models.CommunicationTypeToolCall, rows[0].CommunicationType)
		require.NotNil(t, rows[0].ToolName)
		assert.Equal(t, "pods_list", *rows[0].ToolName)
		assert.Equal(t, "prod", rows[0].ToolArguments["namespace"])
		assert.Len(t, rows[1].AvailableTools, 2)
	})

	t.Run("rejects interaction without session id", func(t *testing.T) {
		_, err := service.StoreLLMInteraction(ctx, &models.LLMInteraction{RequestID: "r"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		_, err = service.StoreMCPInteraction(ctx, &models.MCPInteraction{RequestID: "r"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestService_GetSessionTimeline(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	sessionID := createTestSession(t, service, nil)

	base := models.NowUS()
	storeLLM := func(ts int64, desc string) {
		_, err := service.StoreLLMInteraction(ctx, &models.LLMInteraction{
			SessionID:       sessionID,
			RequestID:       desc,
			Provider:        "google-default",
			ModelName:       "gemini-2.5-pro",
			TimestampUS:     ts,
			StartTimeUS:     ts,
			Success:         true,
			StepDescription: desc,
			InteractionType: models.InteractionTypeNormal,
		})
		require.NoError(t, err)
	}
	storeMCP := func(ts int64, desc string) {
		_, err := service.StoreMCPInteraction(ctx, &models.MCPInteraction{
			SessionID:         sessionID,
			RequestID:         desc,
			ServerName:        "kubernetes-server",
			CommunicationType: models.CommunicationTypeToolCall,
			TimestampUS:       ts,
			StartTimeUS:       ts,
			Success:           true,
			StepDescription:   desc,
		})
		require.NoError(t, err)
	}

	// Interleaved on purpose: llm, mcp, llm.
	storeLLM(base+10, "think")
	storeMCP(base+20, "call tool")
	storeLLM(base+30, "conclude")

	timeline, err := service.GetSessionTimeline(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)

	assert.Equal(t, []string{"llm", "mcp", "llm"}, []string{
		timeline[0].EventType, timeline[1].EventType, timeline[2].EventType,
	})
	assert.Equal(t, []string{"think", "call tool", "conclude"}, []string{
		timeline[0].StepDescription, timeline[1].StepDescription, timeline[2].StepDescription,
	})
	for i := 1; i < len(timeline); i++ {
		assert.LessOrEqual(t, timeline[i-1].TimestampUS, timeline[i].TimestampUS)
	}

	// Details carry the full typed interaction.
	llmDetails, isLLM := timeline[0].Details.(models.LLMInteraction)
	require.True(t, isLLM)
	assert.Equal(t, "gemini-2.5-pro", llmDetails.ModelName)
	mcpDetails, isMCP := timeline[1].Details.(models.MCPInteraction)
	require.True(t, isMCP)
	assert.Equal(t, "kubernetes-server", mcpDetails.ServerName)

	// Unknown session yields an empty timeline, not an error.
	empty, err := service.GetSessionTimeline(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
