package controller

import (
	"context"
	"fmt"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// SynthesisController implements a tool-less, single LLM call that merges
// the results of a parallel stage into one coherent analysis. The iteration
// strategy of the synthesis agent only selects the backend; the loop shape
// is always one call.
type SynthesisController struct{}

// NewSynthesisController creates a new synthesis controller.
func NewSynthesisController() *SynthesisController {
	return &SynthesisController{}
}

// Run executes a single LLM call to synthesize previous stage results.
func (c *SynthesisController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	if execCtx.PromptBuilder == nil {
		return nil, fmt.Errorf("PromptBuilder is nil: cannot call BuildSynthesisMessages")
	}
	messages := execCtx.PromptBuilder.BuildSynthesisMessages(execCtx)

	resp, err := callLLM(ctx, execCtx, &agent.GenerateInput{
		SessionID:   execCtx.SessionID,
		ExecutionID: execCtx.ExecutionID,
		Messages:    messages,
		Config:      execCtx.Config.LLMProvider,
		Backend:     execCtx.Config.Backend,
		Tools:       nil, // synthesis never uses tools
	}, models.InteractionTypeNormal, "Synthesis")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("synthesis LLM call failed: %w", err)
	}

	// Fall back to thinking text when the model produced only ThinkingChunks.
	finalAnalysis := resp.Text
	if finalAnalysis == "" && resp.ThinkingText != "" {
		finalAnalysis = resp.ThinkingText
	}

	return &agent.ExecutionResult{
		Status:        agent.ExecutionStatusCompleted,
		FinalAnalysis: finalAnalysis,
		TokensUsed:    usageOf(resp),
	}, nil
}
