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

func kubernetesTools() *mockToolExecutor {
	return &mockToolExecutor{
		tools: []agent.ToolDefinition{
			{Name: "kubernetes-server.pods_list", Description: "List pods in a namespace"},
			{Name: "kubernetes-server.pod_logs", Description: "Fetch pod logs"},
		},
		results: map[string]*agent.ToolResult{
			"kubernetes-server.pods_list": {Content: "pod-a Running, pod-b CrashLoopBackOff"},
			"kubernetes-server.pod_logs":  {Content: "OOMKilled: memory limit exceeded"},
		},
	}
}

func TestReActController_FinalAnswerFirstIteration(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("Thought: The alert is self-explanatory.\nFinal Answer: CPU throttling caused by a misconfigured limit."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "CPU throttling caused by a misconfigured limit.", result.FinalAnalysis)
	assert.Equal(t, 150, result.TokensUsed.TotalTokens)
	assert.Equal(t, 1, llm.callCount)

	interactions := hook.all()
	require.Len(t, interactions, 1)
	assert.Equal(t, models.InteractionTypeNormal, interactions[0].InteractionType)
	assert.Equal(t, "test-provider", interactions[0].Provider)
	assert.Equal(t, "ReAct iteration 1/20", interactions[0].StepDescription)
	assert.True(t, interactions[0].Success)

	// Capture record holds the full conversation including the reply.
	conv := interactions[0].Conversation
	require.Len(t, conv, 3)
	assert.Equal(t, models.RoleSystem, conv[0].Role)
	assert.Equal(t, models.RoleUser, conv[1].Role)
	assert.Equal(t, models.RoleAssistant, conv[2].Role)
}

func TestReActController_ToolCallThenFinalAnswer(t *testing.T) {
	llm := &mockLLMClient{capture: true, responses: []mockLLMResponse{
		textResponse("Thought: I should inspect the pods.\n" +
			"Action: kubernetes-server.pods_list\n" +
			`Action Input: {"namespace": "default"}`),
		textResponse("Thought: pod-b is crash looping.\nFinal Answer: pod-b is in CrashLoopBackOff."),
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

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "pod-b is in CrashLoopBackOff.", result.FinalAnalysis)
	assert.Equal(t, 300, result.TokensUsed.TotalTokens)

	// The dispatcher got the raw Action Input string; parsing happens there.
	require.Len(t, executed, 1)
	assert.Equal(t, "kubernetes-server.pods_list", executed[0].Name)
	assert.Equal(t, `{"namespace": "default"}`, executed[0].Arguments)
	assert.NotEmpty(t, executed[0].ID)

	// ReAct never binds tools on the LLM call.
	for _, input := range llm.capturedInputs {
		assert.Nil(t, input.Tools)
	}

	// The second capture record carries the observation as a user message.
	interactions := hook.all()
	require.Len(t, interactions, 2)
	conv := interactions[1].Conversation
	require.Len(t, conv, 5)
	assert.Equal(t, models.RoleUser, conv[3].Role)
	assert.Contains(t, conv[3].Content, "Observation:")
	assert.Contains(t, conv[3].Content, "CrashLoopBackOff")
}

func TestReActController_UnknownToolFeedback(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("Thought: Try a tool that does not exist.\n" +
			"Action: kubernetes-server.nonexistent\n" +
			"Action Input: {}"),
		textResponse("Final Answer: Proceeding without that tool."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	conv := interactions[1].Conversation
	feedback := conv[len(conv)-2]
	assert.Equal(t, models.RoleUser, feedback.Role)
	assert.Contains(t, feedback.Content, "kubernetes-server.nonexistent")
	assert.Contains(t, feedback.Content, "Available tools")
}

func TestReActController_MalformedResponseFeedback(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("I will just ramble without any ReAct structure."),
		textResponse("Final Answer: Recovered with proper format."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Recovered with proper format.", result.FinalAnalysis)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	conv := interactions[1].Conversation
	feedback := conv[len(conv)-2]
	assert.Equal(t, models.RoleUser, feedback.Role)
	assert.Contains(t, feedback.Content, "FORMAT ERROR")
}

func TestReActController_LLMErrorRecovery(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		{err: fmt.Errorf("connection reset")},
		textResponse("Final Answer: Recovered after transient failure."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Recovered after transient failure.", result.FinalAnalysis)
	assert.Equal(t, 2, llm.callCount)

	// Failed call is still captured, with the error stamped.
	interactions := hook.all()
	require.Len(t, interactions, 2)
	assert.False(t, interactions[0].Success)
	require.NotNil(t, interactions[0].ErrorMessage)
	assert.Contains(t, *interactions[0].ErrorMessage, "connection reset")

	// The retry conversation contains the error observation.
	conv := interactions[1].Conversation
	require.Len(t, conv, 4)
	errObs := conv[2]
	assert.Equal(t, models.RoleUser, errObs.Role)
	assert.Contains(t, errObs.Content, "Error from previous attempt")
}

func TestReActController_ConsecutiveTimeoutsAbort(t *testing.T) {
	timeoutErr := fmt.Errorf("rpc failed: %w", context.DeadlineExceeded)
	llm := &mockLLMClient{responses: []mockLLMResponse{
		{err: timeoutErr},
		{err: timeoutErr},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, agent.ExecutionStatusFailed, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "aborted after 2 consecutive timeouts")
	assert.Equal(t, 2, llm.callCount)
}

func TestReActController_BudgetExhaustedPauses(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("Thought: still digging, no answer yet."),
		textResponse("Thought: still digging, no answer yet."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 2

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, agent.ExecutionStatusPaused, result.Status)
	assert.Equal(t, 2, result.PausedAtIteration)
	assert.Empty(t, result.FinalAnalysis)
	// No forced-conclusion call was made.
	assert.Equal(t, 2, llm.callCount)
}

func TestReActController_ForcedConclusion(t *testing.T) {
	llm := &mockLLMClient{capture: true, responses: []mockLLMResponse{
		textResponse("Thought: need more time."),
		textResponse("Thought: wrapping up.\nFinal Answer: Node memory pressure is the root cause."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 1
	execCtx.Config.ForceConclusion = true

	hook := &recordingLLMHook{}
	execCtx.Hooks.RegisterLLMHook(hook)

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Node memory pressure is the root cause.", result.FinalAnalysis)
	assert.Equal(t, 2, llm.callCount)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	assert.Equal(t, models.InteractionTypeNormal, interactions[0].InteractionType)
	assert.Equal(t, models.InteractionTypeForcedConclusion, interactions[1].InteractionType)
	// The conclusion call uses the same provider as the loop.
	assert.Equal(t, interactions[0].Provider, interactions[1].Provider)
	// And carries the conclusion prompt as the last user message.
	conv := interactions[1].Conversation
	prompt := conv[len(conv)-2]
	assert.Equal(t, models.RoleUser, prompt.Role)
	assert.Contains(t, prompt.Content, "final answer")
}

func TestReActController_ChatContextForcesConclusion(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("Thought: need more time."),
		textResponse("Final Answer: The deployment rollout is stuck."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 1
	execCtx.Config.ForceConclusion = false
	execCtx.ChatContext = &agent.ChatContext{UserQuestion: "why is the rollout stuck?"}

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	// Chat stages never pause — the user is waiting for an answer.
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "The deployment rollout is stuck.", result.FinalAnalysis)
	assert.Equal(t, 2, llm.callCount)
}

func TestReActController_ForcedConclusionErrorFallsBack(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("Thought: need more time."),
		{err: fmt.Errorf("provider unavailable")},
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 1
	execCtx.Config.ForceConclusion = true

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	// A failed conclusion still completes the stage with a non-empty summary.
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, ForcedConclusionFallback, result.FinalAnalysis)
}

func TestReActController_ForcedConclusionUnparseableUsesRawText(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("Thought: need more time."),
		textResponse("The investigation points to a noisy neighbor workload."),
	}}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())
	execCtx.Config.MaxIterations = 1
	execCtx.Config.ForceConclusion = true

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "The investigation points to a noisy neighbor workload.", result.FinalAnalysis)
}

func TestReActController_SessionCancelPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	llm := &mockLLMClient{
		responses: []mockLLMResponse{{err: context.Canceled}},
		onGenerate: func(int) {
			cancel()
		},
	}
	execCtx := newTestExecCtx(t, llm, kubernetesTools())

	result, err := NewReActController().Run(ctx, execCtx)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReActController_ToolErrorObservation(t *testing.T) {
	llm := &mockLLMClient{responses: []mockLLMResponse{
		textResponse("Thought: check the pods.\n" +
			"Action: kubernetes-server.pods_list\n" +
			"Action Input: {}"),
		textResponse("Final Answer: Could not list pods; escalating."),
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

	result, err := NewReActController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.ExecutionStatusCompleted, result.Status)

	interactions := hook.all()
	require.Len(t, interactions, 2)
	conv := interactions[1].Conversation
	obs := conv[len(conv)-2]
	assert.Equal(t, models.RoleUser, obs.Role)
	assert.Contains(t, obs.Content, "not connected")
}
