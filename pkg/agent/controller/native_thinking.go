package controller

import (
	"context"
	"fmt"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// NativeThinkingController implements the native function calling loop.
// Tool calls come as structured ToolCallChunk values (not parsed from text).
// Completion signal: a response without any tool calls.
type NativeThinkingController struct{}

// NewNativeThinkingController creates a new native thinking controller.
func NewNativeThinkingController() *NativeThinkingController {
	return &NativeThinkingController{}
}

// Run executes the native thinking iteration loop.
func (c *NativeThinkingController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	maxIter := execCtx.Config.MaxIterations
	totalUsage := models.TokenUsage{}
	state := &agent.IterationState{MaxIterations: maxIter}

	// 1. Build initial conversation via prompt builder
	if execCtx.PromptBuilder == nil {
		return nil, fmt.Errorf("PromptBuilder is nil: cannot call BuildNativeThinkingMessages")
	}
	messages := execCtx.PromptBuilder.BuildNativeThinkingMessages(execCtx)

	// 2. Get available tools
	tools, err := execCtx.ToolExecutor.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	// Main iteration loop
	for iteration := 0; iteration < maxIter; iteration++ {
		state.CurrentIteration = iteration + 1

		if state.ShouldAbortOnTimeouts() {
			return failedResult(state, totalUsage), nil
		}

		iterCtx, iterCancel := context.WithTimeout(ctx, execCtx.Config.IterationTimeout)

		// Call LLM WITH tools bound (native function calling)
		resp, err := callLLM(iterCtx, execCtx, &agent.GenerateInput{
			SessionID:   execCtx.SessionID,
			ExecutionID: execCtx.ExecutionID,
			Messages:    messages,
			Config:      execCtx.Config.LLMProvider,
			Backend:     execCtx.Config.Backend,
			Tools:       tools,
		}, models.InteractionTypeNormal, fmt.Sprintf("Native thinking iteration %d/%d", state.CurrentIteration, maxIter))

		if err != nil {
			iterCancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			state.RecordFailure(err.Error(), isTimeoutError(err))

			// Add error context as user message
			errMsg := fmt.Sprintf("Error from previous attempt: %s. Please try again.", err.Error())
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: errMsg})
			continue
		}

		totalUsage.Add(usageOf(resp))
		state.RecordSuccess()

		// No tool calls — this is the final answer
		if len(resp.ToolCalls) == 0 {
			iterCancel()
			return &agent.ExecutionResult{
				Status:        agent.ExecutionStatusCompleted,
				FinalAnalysis: resp.Text,
				TokensUsed:    totalUsage,
			}, nil
		}

		// Append assistant message WITH tool calls
		messages = append(messages, models.ConversationMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: modelToolCalls(resp.ToolCalls),
		})

		// Execute each tool call and append results as tool-role messages
		for _, tc := range resp.ToolCalls {
			result, toolErr := execCtx.ToolExecutor.Execute(iterCtx, tc)

			var content string
			if toolErr != nil {
				state.RecordFailure(toolErr.Error(), isTimeoutError(toolErr))
				content = fmt.Sprintf("Error executing tool: %s", toolErr.Error())
			} else {
				content = result.Content
			}
			messages = append(messages, models.ConversationMessage{
				Role:       models.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}

		iterCancel()
	}

	// Iteration budget exhausted without a final answer.
	return concludeOrPause(ctx, execCtx, messages, totalUsage, state,
		config.IterationStrategyNativeThinking, extractNativeConclusion)
}

// extractNativeConclusion takes the conclusion text raw; the forced call is
// made without tools, so the response is plain text. Falls back to thinking
// content when the model produced only ThinkingChunks.
func extractNativeConclusion(resp *LLMResponse) string {
	if resp.Text != "" {
		return resp.Text
	}
	return resp.ThinkingText
}
