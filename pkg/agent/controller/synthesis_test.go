package controller

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

func TestSynthesisController_SingleToolLessCall(t *testing.T) {
	llm := &mockLLMClient{capture: true, responses: []mockLLMResponse{
		textResponse("Combined analysis: both agents point to the same failing node."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.PrevStageContext = "Agent A found X. Agent B found Y."

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewSynthesisController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Combined analysis: both agents point to the same failing node.", result.FinalAnalysis)
	assert.Equal(t, 150, result.TokensUsed.TotalTokens)
	assert.Equal(t, 1, llm.callCount)

	// Synthesis never binds tools.
	require.Len(t, llm.capturedInputs, 1)
	assert.Nil(t, llm.capturedInputs[0].Tools)

	interactions := hook.all()
	require.Len(t, interactions, 1)
	assert.Equal(t, models.InteractionTypeNormal, interactions[0].InteractionType)
	assert.Equal(t, "Synthesis", interactions[0].StepDescription)

	// Prompt carries the parallel stage results.
	conv := interactions[0].Conversation
	require.Len(t, conv, 3)
	assert.Contains(t, conv[1].Content, "Agent A found X.")
}

func TestSynthesisController_ThinkingFallback(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		{chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "Both findings reduce to one root cause."},
			&agent.UsageChunk{TotalTokens: 20},
		}},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	result, err := NewSynthesisController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Both findings reduce to one root cause.", result.FinalAnalysis)
}

func TestSynthesisController_LLMErrorReturnsError(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		{err: fmt.Errorf("provider unavailable")},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	result, err := NewSynthesisController().Run(context.Background(), execCtx)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "synthesis LLM call failed")
}
