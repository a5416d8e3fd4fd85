package controller

import (
	"context"
	"fmt"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// ReActController implements the standard Reason + Act loop with text-based
// tool calling. This is the primary investigation strategy and supports all
// LLM providers via LangChain.
type ReActController struct{}

// NewReActController creates a new ReAct controller.
func NewReActController() *ReActController {
	return &ReActController{}
}

// Run executes the ReAct iteration loop.
func (c *ReActController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	maxIter := execCtx.Config.MaxIterations
	totalUsage := models.TokenUsage{}
	state := &agent.IterationState{MaxIterations: maxIter}

	// 1. Get available tools (needed for prompt and validation)
	tools, err := execCtx.ToolExecutor.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	// 2. Build initial conversation via prompt builder
	if execCtx.PromptBuilder == nil {
		return nil, fmt.Errorf("PromptBuilder is nil: cannot call BuildReActMessages")
	}
	messages := execCtx.PromptBuilder.BuildReActMessages(execCtx, tools)

	// 3. Build tool name set for Action validation
	toolNames := buildToolNameSet(tools)

	// Main iteration loop
	for iteration := 0; iteration < maxIter; iteration++ {
		state.CurrentIteration = iteration + 1

		// Check consecutive timeout threshold
		if state.ShouldAbortOnTimeouts() {
			return failedResult(state, totalUsage), nil
		}

		// Per-iteration timeout
		iterCtx, iterCancel := context.WithTimeout(ctx, execCtx.Config.IterationTimeout)

		// Text-only call — tools are described in the system prompt, not bound.
		resp, err := callLLM(iterCtx, execCtx, &agent.GenerateInput{
			SessionID:   execCtx.SessionID,
			ExecutionID: execCtx.ExecutionID,
			Messages:    messages,
			Config:      execCtx.Config.LLMProvider,
			Backend:     execCtx.Config.Backend,
			Tools:       nil,
		}, models.InteractionTypeNormal, fmt.Sprintf("ReAct iteration %d/%d", state.CurrentIteration, maxIter))

		if err != nil {
			iterCancel()
			// Session-level interrupts propagate to the caller; the base
			// agent classifies them as timed_out or cancelled.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			state.RecordFailure(err.Error(), isTimeoutError(err))
			observation := FormatErrorObservation(err)
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: observation})
			continue
		}

		totalUsage.Add(usageOf(resp))
		state.RecordSuccess()

		// Append assistant response to conversation
		messages = append(messages, models.ConversationMessage{
			Role:    models.RoleAssistant,
			Content: resp.Text,
		})

		parsed := ParseReActResponse(resp.Text)

		switch {
		case parsed.IsFinalAnswer:
			iterCancel()
			return &agent.ExecutionResult{
				Status:        agent.ExecutionStatusCompleted,
				FinalAnalysis: parsed.FinalAnswer,
				TokensUsed:    totalUsage,
			}, nil

		case parsed.HasAction && !parsed.IsUnknownTool:
			// Valid tool call — check against available tools
			if !toolNames[parsed.Action] {
				observation := FormatUnknownToolError(parsed.Action,
					fmt.Sprintf("Unknown tool '%s'", parsed.Action), tools)
				messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: observation})
			} else {
				result, toolErr := execCtx.ToolExecutor.Execute(iterCtx, agent.ToolCall{
					ID:        generateCallID(),
					Name:      parsed.Action,
					Arguments: parsed.ActionInput,
				})

				var observation string
				if toolErr != nil {
					state.RecordFailure(toolErr.Error(), isTimeoutError(toolErr))
					observation = FormatToolErrorObservation(toolErr)
				} else {
					observation = FormatObservation(result)
				}
				messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: observation})
			}

		case parsed.IsUnknownTool:
			observation := FormatUnknownToolError(parsed.Action, parsed.ErrorMessage, tools)
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: observation})

		default:
			// Malformed response — keep it, add format feedback
			feedback := GetFormatErrorFeedback(parsed)
			messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: feedback})
		}

		iterCancel()
	}

	// Iteration budget exhausted without a final answer.
	return concludeOrPause(ctx, execCtx, messages, totalUsage, state,
		config.IterationStrategyReact, extractReActConclusion)
}

// extractReActConclusion pulls the final answer out of a forced-conclusion
// response. Falls back to the raw text when the parser extracts nothing —
// forced conclusions may or may not follow the ReAct format.
func extractReActConclusion(resp *LLMResponse) string {
	parsed := ParseReActResponse(resp.Text)
	if answer := ExtractForcedConclusionAnswer(parsed); answer != "" {
		return answer
	}
	return resp.Text
}
