package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
	llmv1 "github.com/tarsy-bot/tarsy/proto"
)

func TestToProtoMessages(t *testing.T) {
	messages := []models.ConversationMessage{
		{Role: models.RoleSystem, Content: "You are a bot"},
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi", ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "kubernetes-server.pods_list", Arguments: map[string]any{"namespace": "default"}},
		}},
		{Role: models.RoleTool, Content: `{"result":"ok"}`, ToolCallID: "tc1", ToolName: "kubernetes-server.pods_list"},
	}

	result := toProtoMessages(messages)
	require.Len(t, result, 4)

	assert.Equal(t, "system", result[0].Role)
	assert.Equal(t, "You are a bot", result[0].Content)
	assert.Equal(t, "user", result[1].Role)

	assistant := result[2]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Equal(t, "Hi", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "tc1", assistant.ToolCalls[0].Id)
	assert.Equal(t, "kubernetes-server.pods_list", assistant.ToolCalls[0].Name)
	assert.JSONEq(t, `{"namespace":"default"}`, assistant.ToolCalls[0].Arguments)

	toolResult := result[3]
	assert.Equal(t, "tool", toolResult.Role)
	assert.Equal(t, "tc1", toolResult.ToolCallId)
	assert.Equal(t, "kubernetes-server.pods_list", toolResult.ToolName)
}

func TestMarshalArguments(t *testing.T) {
	assert.Equal(t, "{}", marshalArguments(nil))
	assert.Equal(t, "{}", marshalArguments(map[string]any{}))
	assert.JSONEq(t, `{"ns":"default","limit":5}`,
		marshalArguments(map[string]any{"ns": "default", "limit": 5}))
}

func TestToProtoLLMConfig(t *testing.T) {
	cfg := &config.LLMProviderConfig{
		Type:                config.LLMProviderTypeGoogle,
		Model:               "gemini-2.5-pro",
		APIKeyEnv:           "GOOGLE_API_KEY",
		MaxToolResultTokens: 950000,
	}

	t.Run("explicit backend", func(t *testing.T) {
		proto := toProtoLLMConfig(cfg, BackendGoogleNative)
		assert.Equal(t, "google", proto.Provider)
		assert.Equal(t, "gemini-2.5-pro", proto.Model)
		assert.Equal(t, "GOOGLE_API_KEY", proto.ApiKeyEnv)
		assert.Equal(t, int32(950000), proto.MaxToolResultTokens)
		assert.Equal(t, BackendGoogleNative, proto.Backend)
	})

	t.Run("empty backend defaults to langchain", func(t *testing.T) {
		proto := toProtoLLMConfig(cfg, "")
		assert.Equal(t, BackendLangChain, proto.Backend)
	})
}

func TestToProtoRequest(t *testing.T) {
	input := &GenerateInput{
		SessionID:   "sess-1",
		ExecutionID: "exec-1",
		Messages: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "Hello"},
		},
		Config: &config.LLMProviderConfig{
			Type:  config.LLMProviderTypeOpenAI,
			Model: "gpt-5",
		},
		Backend: BackendLangChain,
		Tools: []ToolDefinition{
			{Name: "kubernetes-server.pods_list", Description: "List pods", ParametersSchema: `{"type":"object"}`},
		},
	}

	req := toProtoRequest(input)

	assert.Equal(t, "sess-1", req.SessionId)
	assert.Equal(t, "exec-1", req.ExecutionId)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Tools, 1)
	require.NotNil(t, req.LlmConfig)
	assert.Equal(t, "openai", req.LlmConfig.Provider)
	assert.Equal(t, BackendLangChain, req.LlmConfig.Backend)

	t.Run("nil config leaves LlmConfig unset", func(t *testing.T) {
		req := toProtoRequest(&GenerateInput{SessionID: "sess-2"})
		assert.Nil(t, req.LlmConfig)
	})
}

func TestToProtoTools(t *testing.T) {
	assert.Nil(t, toProtoTools(nil))
	assert.Nil(t, toProtoTools([]ToolDefinition{}))

	result := toProtoTools([]ToolDefinition{
		{Name: "kubernetes-server.pods_list", Description: "List pods", ParametersSchema: `{"type":"object"}`},
	})
	require.Len(t, result, 1)
	assert.Equal(t, "kubernetes-server.pods_list", result[0].Name)
	assert.Equal(t, "List pods", result[0].Description)
	assert.Equal(t, `{"type":"object"}`, result[0].ParametersSchema)
}

func TestFromProtoResponse(t *testing.T) {
	t.Run("text chunk", func(t *testing.T) {
		chunk := fromProtoResponse(&llmv1.GenerateResponse{
			Content: &llmv1.GenerateResponse_Text{Text: &llmv1.TextChunk{Content: "hello"}},
		})
		tc, ok := chunk.(*TextChunk)
		require.True(t, ok)
		assert.Equal(t, "hello", tc.Content)
	})

	t.Run("thinking chunk", func(t *testing.T) {
		chunk := fromProtoResponse(&llmv1.GenerateResponse{
			Content: &llmv1.GenerateResponse_Thinking{Thinking: &llmv1.ThinkingChunk{Content: "hmm"}},
		})
		tc, ok := chunk.(*ThinkingChunk)
		require.True(t, ok)
		assert.Equal(t, "hmm", tc.Content)
	})

	t.Run("tool call chunk", func(t *testing.T) {
		chunk := fromProtoResponse(&llmv1.GenerateResponse{
			Content: &llmv1.GenerateResponse_ToolCall{ToolCall: &llmv1.ToolCallChunk{
				CallId:    "call1",
				Name:      "kubernetes-server.pods_list",
				Arguments: `{"namespace":"default"}`,
			}},
		})
		tc, ok := chunk.(*ToolCallChunk)
		require.True(t, ok)
		assert.Equal(t, "call1", tc.CallID)
		assert.Equal(t, "kubernetes-server.pods_list", tc.Name)
		assert.Equal(t, `{"namespace":"default"}`, tc.Arguments)
	})

	t.Run("usage chunk", func(t *testing.T) {
		chunk := fromProtoResponse(&llmv1.GenerateResponse{
			Content: &llmv1.GenerateResponse_Usage{Usage: &llmv1.UsageChunk{
				InputTokens:  100,
				OutputTokens: 200,
				TotalTokens:  300,
			}},
		})
		uc, ok := chunk.(*UsageChunk)
		require.True(t, ok)
		assert.Equal(t, int32(100), uc.InputTokens)
		assert.Equal(t, int32(200), uc.OutputTokens)
		assert.Equal(t, int32(300), uc.TotalTokens)
	})

	t.Run("error chunk", func(t *testing.T) {
		chunk := fromProtoResponse(&llmv1.GenerateResponse{
			Content: &llmv1.GenerateResponse_Error{Error: &llmv1.ErrorChunk{
				Message:   "rate limited",
				Code:      "429",
				Retryable: true,
			}},
		})
		ec, ok := chunk.(*ErrorChunk)
		require.True(t, ok)
		assert.Equal(t, "rate limited", ec.Message)
		assert.Equal(t, "429", ec.Code)
		assert.True(t, ec.Retryable)
	})

	t.Run("empty content yields no chunk", func(t *testing.T) {
		assert.Nil(t, fromProtoResponse(&llmv1.GenerateResponse{}))
	})
}
