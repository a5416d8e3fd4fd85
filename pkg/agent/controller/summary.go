package controller

import (
	"context"
	"fmt"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// RunExecutiveSummary condenses a completed investigation's final analysis
// into a short operator-facing summary with a single tool-less LLM call.
// The interaction is captured session-wide (no stage row) and tagged
// executive_summary so investigation retelling can skip it. Callers treat
// failure as fail-open: the session completes without a summary.
func RunExecutiveSummary(ctx context.Context, execCtx *agent.ExecutionContext, finalAnalysis string) (string, error) {
	if execCtx.PromptBuilder == nil {
		return "", fmt.Errorf("PromptBuilder is nil: cannot build executive summary prompt")
	}
	messages := []models.ConversationMessage{
		{Role: models.RoleSystem, Content: execCtx.PromptBuilder.BuildExecutiveSummarySystemPrompt()},
		{Role: models.RoleUser, Content: execCtx.PromptBuilder.BuildExecutiveSummaryUserPrompt(finalAnalysis)},
	}

	scope := execCtx.Hooks.NewLLMScope(execCtx.SessionID, nil,
		execCtx.Config.LLMProviderName, execCtx.Config.LLMProvider.Model, "Executive Summary")
	scope.Interaction.InteractionType = models.InteractionTypeExecutiveSummary

	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	stream, err := execCtx.LLMClient.Generate(llmCtx, &agent.GenerateInput{
		SessionID: execCtx.SessionID,
		Messages:  messages,
		Config:    execCtx.Config.LLMProvider,
		Backend:   execCtx.Config.Backend,
		Tools:     nil, // the summary never uses tools
	})
	if err != nil {
		scope.Finish(ctx, err)
		return "", fmt.Errorf("executive summary LLM call failed: %w", err)
	}

	resp, err := collectStream(stream)
	if err != nil {
		scope.Finish(ctx, err)
		return "", fmt.Errorf("executive summary LLM call failed: %w", err)
	}

	summary := resp.Text
	if summary == "" && resp.ThinkingText != "" {
		summary = resp.ThinkingText
	}

	scope.CompleteSuccess(conversationWithReply(messages, resp), resp.Usage)
	scope.Finish(ctx, nil)
	return summary, nil
}
