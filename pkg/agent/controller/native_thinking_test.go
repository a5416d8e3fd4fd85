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

// toolCallResponse builds a mock response that streams thinking, one
// structured tool call, and usage.
func toolCallResponse(callID, name, args string) mockLLMResponse {
	return mockLLMResponse{chunks: []agent.Chunk{
		&agent.ThinkingChunk{Content: "I need more data before answering."},
		&agent.ToolCallChunk{CallID: callID, Name: name, Arguments: args},
		&agent.UsageChunk{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}}
}

func TestNativeThinkingController_FinalOnNoToolCalls(t *testing.T) {
	llm := &mockLLMClient{capture: true, responses: []mockLLMResponse{
		{chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "The alert already contains the root cause."},
			&agent.TextChunk{Content: "Memory limit misconfiguration on the deployment."},
			&agent.UsageChunk{InputTokens: 80, OutputTokens: 40, TotalTokens: 120},
		}},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	result, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Memory limit misconfiguration on the deployment.", result.FinalAnalysis)
	assert.Equal(t, 120, result.TokensUsed.TotalTokens)
	assert.Equal(t, 1, llm.callCount)

	// Native calling binds the tool definitions on every loop call.
	require.Len(t, llm.capturedInputs, 1)
	assert.Len(t, llm.capturedInputs[0].Tools, 2)
}

func TestNativeThinkingController_ToolCallLoop(t *testing.T) {
	llm := &mockLLMClient{capture: true, responses: []mockLLMResponse{
		toolCallResponse("call-1", "kubernetes-server.pods_list", `{"namespace":"default"}`),
		textResponse("pod-b is stuck in CrashLoopBackOff due to OOM kills."),
	}}

	var executed []agent.ToolCall
	toolExec := &mockToolExecutorFunc{
		tools: []agent.ToolDefinition{{Name: "kubernetes-server.pods_list"}},
		executeFn: func(_ context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
			executed = append(executed, call)
			return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: "pod-a Running, pod-b CrashLoopBackOff"}, nil
		},
	}
	execCtx := newTestExecCtx(t, llm, toolExec)

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "pod-b is stuck in CrashLoopBackOff due to OOM kills.", result.FinalAnalysis)
	assert.Equal(t, 300, result.TokensUsed.TotalTokens)

	// Structured calls reach the dispatcher with their wire-form arguments.
	require.Len(t, executed, 1)
	assert.Equal(t, "call-1", executed[0].ID)
	assert.Equal(t, `{"namespace":"default"}`, executed[0].Arguments)

	// Second capture record: assistant message with parsed tool-call
	// arguments, then the tool-role result correlated by call ID.
	interactions := hook.all()
	require.Len(t, interactions, 2)
	conv := interactions[1].Conversation
	require.Len(t, conv, 5)

	assistant := conv[2]
	assert.Equal(t, models.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call-1", assistant.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"namespace": "default"}, assistant.ToolCalls[0].Arguments)

	toolMsg := conv[3]
	assert.Equal(t, models.RoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, "kubernetes-server.pods_list", toolMsg.ToolName)
	assert.Contains(t, toolMsg.Content, "CrashLoopBackOff")
}

func TestNativeThinkingController_ToolErrorBecomesToolMessage(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		toolCallResponse("call-1", "kubernetes-server.pods_list", `{}`),
		textResponse("Unable to inspect pods; recommending manual check."),
	}}
	toolExec := &mockToolExecutorFunc{
		tools: []agent.ToolDefinition{{Name: "kubernetes-server.pods_list"}},
		executeFn: func(_ context.Context, _ agent.ToolCall) (*agent.ToolResult, error) {
			return nil, fmt.Errorf("server kubernetes-server not connected")
		},
	}
	execCtx := newTestExecCtx(t, llm, toolExec)

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	conv := interactions[1].Conversation
	toolMsg := conv[3]
	assert.Equal(t, models.RoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "Error executing tool:")
	assert.Contains(t, toolMsg.Content, "not connected")
}

func TestNativeThinkingController_UnparseableArgumentsPreserved(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		toolCallResponse("call-1", "kubernetes-server.pods_list", "namespace: default, all: true"),
		textResponse("Done."),
	}}
	toolExec := &mockToolExecutorFunc{
		tools: []agent.ToolDefinition{{Name: "kubernetes-server.pods_list"}},
		executeFn: func(_ context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
			return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: "ok"}, nil
		},
	}
	execCtx := newTestExecCtx(t, llm, toolExec)

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	_, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	assistant := interactions[1].Conversation[2]
	require.Len(t, assistant.ToolCalls, 1)
	// Non-JSON arguments are kept verbatim under "raw" in the record.
	assert.Equal(t, map[string]any{"raw": "namespace: default, all: true"}, assistant.ToolCalls[0].Arguments)
}

func TestNativeThinkingController_LLMErrorRecovery(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		{err: fmt.Errorf("stream reset")},
		textResponse("Recovered and concluded."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	conv := interactions[1].Conversation
	require.Len(t, conv, 4)
	errMsg := conv[2]
	assert.Equal(t, models.RoleUser, errMsg.Role)
	assert.Contains(t, errMsg.Content, "Error from previous attempt")
	assert.Contains(t, errMsg.Content, "stream reset")
}

func TestNativeThinkingController_BudgetExhaustedPauses(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		toolCallResponse("call-1", "kubernetes-server.pods_list", `{}`),
		toolCallResponse("call-2", "kubernetes-server.pods_list", `{}`),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 2

	result, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusPaused, result.Status)
	assert.Equal(t, 2, result.PausedAtIteration)
	assert.Equal(t, 2, llm.callCount)
}

func TestNativeThinkingController_ForcedConclusionDropsTools(t *testing.T) {
	llm := &mockLLMClient{capture: true, responses: []mockLLMResponse{
		toolCallResponse("call-1", "kubernetes-server.pods_list", `{}`),
		textResponse("Conclusion: rollout blocked by a failing readiness probe."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 1
	execCtx.Config.ForceConclusion = true

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Conclusion: rollout blocked by a failing readiness probe.", result.FinalAnalysis)

	// Loop call binds tools; the conclusion call must not.
	require.Len(t, llm.capturedInputs, 2)
	assert.NotEmpty(t, llm.capturedInputs[0].Tools)
	assert.Nil(t, llm.capturedInputs[1].Tools)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	assert.Equal(t, models.InteractionTypeForcedConclusion, interactions[1].InteractionType)
}

func TestNativeThinkingController_ForcedConclusionThinkingFallback(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		toolCallResponse("call-1", "kubernetes-server.pods_list", `{}`),
		{chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "All signals point to disk saturation."},
			&agent.UsageChunk{TotalTokens: 10},
		}},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 1
	execCtx.Config.ForceConclusion = true

	result, err := NewNativeThinkingController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "All signals point to disk saturation.", result.FinalAnalysis)
}
