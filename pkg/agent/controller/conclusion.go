package controller

import (
	"context"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// ForcedConclusionFallback is returned as the final analysis when the
// forced-conclusion call fails or produces nothing. It is non-empty so the
// chain can make progress on a real answer-shaped value.
const ForcedConclusionFallback = "unable to conclude within iteration budget"

// concludeOrPause handles iteration budget exhaustion. Stages configured to
// force a conclusion, and all chat-context stages, get one final tool-less
// LLM call. Everything else pauses so the stage can be resumed later.
//
// extract pulls the final answer out of the conclusion response; it differs
// per strategy (ReAct parses the text, native thinking takes it raw).
func concludeOrPause(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	messages []models.ConversationMessage,
	totalUsage models.TokenUsage,
	state *agent.IterationState,
	strategy config.IterationStrategy,
	extract func(*LLMResponse) string,
) (*agent.ExecutionResult, error) {
	if !execCtx.Config.ForceConclusion && execCtx.ChatContext == nil {
		return &agent.ExecutionResult{
			Status:            agent.ExecutionStatusPaused,
			TokensUsed:        totalUsage,
			PausedAtIteration: state.CurrentIteration,
		}, nil
	}
	return forceConclusion(ctx, execCtx, messages, totalUsage, state, strategy, extract)
}

// forceConclusion makes one final tool-less LLM call so the stage ends with
// an answer. The call uses the same provider as the loop and the same
// per-call timeout; a failure here still completes the stage with the
// fallback summary rather than discarding the investigation.
func forceConclusion(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	messages []models.ConversationMessage,
	totalUsage models.TokenUsage,
	state *agent.IterationState,
	strategy config.IterationStrategy,
	extract func(*LLMResponse) string,
) (*agent.ExecutionResult, error) {
	conclusionPrompt := execCtx.PromptBuilder.BuildForcedConclusionPrompt(state.CurrentIteration, strategy)
	messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: conclusionPrompt})

	conclusionCtx, cancel := context.WithTimeout(ctx, execCtx.Config.IterationTimeout)
	defer cancel()

	resp, err := callLLM(conclusionCtx, execCtx, &agent.GenerateInput{
		SessionID:   execCtx.SessionID,
		ExecutionID: execCtx.ExecutionID,
		Messages:    messages,
		Config:      execCtx.Config.LLMProvider,
		Backend:     execCtx.Config.Backend,
		Tools:       nil, // no tools — force a text-only conclusion
	}, models.InteractionTypeForcedConclusion, "Forced conclusion")
	if err != nil {
		// Session-level interrupts still propagate; the base agent
		// classifies them as timed_out or cancelled.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &agent.ExecutionResult{
			Status:        agent.ExecutionStatusCompleted,
			FinalAnalysis: ForcedConclusionFallback,
			TokensUsed:    totalUsage,
		}, nil
	}

	totalUsage.Add(usageOf(resp))

	finalAnswer := extract(resp)
	if finalAnswer == "" {
		finalAnswer = ForcedConclusionFallback
	}

	return &agent.ExecutionResult{
		Status:        agent.ExecutionStatusCompleted,
		FinalAnalysis: finalAnswer,
		TokensUsed:    totalUsage,
	}, nil
}
