package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/events"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

func TestCollectStream_AssemblesChunks(t *testing.T) {
	ch := make(chan agent.Chunk, 6)
	ch <- &agent.ThinkingChunk{Content: "Let me look at "}
	ch <- &agent.ThinkingChunk{Content: "the pods."}
	ch <- &agent.TextChunk{Content: "The pods are "}
	ch <- &agent.TextChunk{Content: "healthy."}
	ch <- &agent.ToolCallChunk{CallID: "c1", Name: "kubernetes-server.pods_list", Arguments: `{}`}
	ch <- &agent.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	close(ch)

	resp, err := collectStream(ch)
	require.NoError(t, err)

	assert.Equal(t, "The pods are healthy.", resp.Text)
	assert.Equal(t, "Let me look at the pods.", resp.ThinkingText)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "c1", resp.ToolCalls[0].ID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCollectStream_ErrorChunk(t *testing.T) {
	ch := make(chan agent.Chunk, 2)
	ch <- &agent.TextChunk{Content: "partial"}
	ch <- &agent.ErrorChunk{Message: "model overloaded", Code: "overloaded", Retryable: true}
	close(ch)

	resp, err := collectStream(ch)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Contains(t, err.Error(), "overloaded")
}

func TestCallLLM_RecordsConversationAndUsage(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("All clear."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	input := &agent.GenerateInput{
		SessionID:   execCtx.SessionID,
		ExecutionID: execCtx.ExecutionID,
		Messages: []models.ConversationMessage{
			{Role: models.RoleSystem, Content: "sys"},
			{Role: models.RoleUser, Content: "usr"},
		},
		Config: execCtx.Config.LLMProvider,
	}

	resp, err := callLLM(context.Background(), execCtx, input, models.InteractionTypeNormal, "single call")
	require.NoError(t, err)
	assert.Equal(t, "All clear.", resp.Text)

	interactions := hook.all()
	require.Len(t, interactions, 1)
	rec := interactions[0]
	assert.Equal(t, execCtx.SessionID, rec.SessionID)
	require.NotNil(t, rec.StageExecutionID)
	assert.Equal(t, execCtx.ExecutionID, *rec.StageExecutionID)
	assert.Equal(t, "test-provider", rec.Provider)
	assert.Equal(t, "test-model", rec.ModelName)
	assert.Equal(t, "single call", rec.StepDescription)
	assert.True(t, rec.Success)
	require.NotNil(t, rec.TokenUsage)
	assert.Equal(t, 150, rec.TokenUsage.TotalTokens)

	// Conversation = request messages + assistant reply; the input slice is
	// not mutated.
	require.Len(t, rec.Conversation, 3)
	assert.Equal(t, models.RoleAssistant, rec.Conversation[2].Role)
	assert.Equal(t, "All clear.", rec.Conversation[2].Content)
	assert.Len(t, input.Messages, 2)
}

func TestCallLLM_StreamEmission(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		{chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "hmm"},
			&agent.TextChunk{Content: "part one, "},
			&agent.TextChunk{Content: "part two"},
			&agent.UsageChunk{TotalTokens: 5},
		}},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	stream := &recordingStream{}
	execCtx.Stream = stream

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	input := &agent.GenerateInput{
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "go"}},
		Config:   execCtx.Config.LLMProvider,
	}
	_, err := callLLM(context.Background(), execCtx, input, models.InteractionTypeNormal, "streamed call")
	require.NoError(t, err)

	chunks := stream.all()
	require.Len(t, chunks, 4)

	// Every delta goes out as intermediate_response in arrival order.
	assert.Equal(t, ChunkTypeThinking, chunks[0].chunkType)
	assert.Equal(t, "hmm", chunks[0].delta)
	assert.Equal(t, events.StreamStatusIntermediate, chunks[0].status)

	assert.Equal(t, ChunkTypeResponse, chunks[1].chunkType)
	assert.Equal(t, "part one, ", chunks[1].delta)
	assert.Equal(t, ChunkTypeResponse, chunks[2].chunkType)
	assert.Equal(t, "part two", chunks[2].delta)

	// Exactly one final_answer marker closes the stream, with an empty delta.
	final := chunks[3]
	assert.Equal(t, events.StreamStatusFinal, final.status)
	assert.Empty(t, final.delta)

	// All envelopes correlate to the captured interaction.
	interactions := hook.all()
	require.Len(t, interactions, 1)
	for _, c := range chunks {
		assert.Equal(t, interactions[0].InteractionID, c.interactionID)
	}
}

func TestCallLLM_FailedStreamHasNoFinalMarker(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		{chunks: []agent.Chunk{
			&agent.TextChunk{Content: "partial"},
			&agent.ErrorChunk{Message: "boom", Code: "internal"},
		}},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	stream := &recordingStream{}
	execCtx.Stream = stream

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	input := &agent.GenerateInput{
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "go"}},
		Config:   execCtx.Config.LLMProvider,
	}
	_, err := callLLM(context.Background(), execCtx, input, models.InteractionTypeNormal, "failing call")
	require.Error(t, err)

	// The partial delta went out, but no final_answer marker followed.
	chunks := stream.all()
	require.Len(t, chunks, 1)
	assert.Equal(t, events.StreamStatusIntermediate, chunks[0].status)

	// The failure is still captured.
	interactions := hook.all()
	require.Len(t, interactions, 1)
	assert.False(t, interactions[0].Success)
}

func TestCallLLM_StreamDisabled(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("no streaming"),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Stream = nil

	input := &agent.GenerateInput{
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "go"}},
		Config:   execCtx.Config.LLMProvider,
	}
	resp, err := callLLM(context.Background(), execCtx, input, models.InteractionTypeNormal, "buffered call")
	require.NoError(t, err)
	assert.Equal(t, "no streaming", resp.Text)
}
