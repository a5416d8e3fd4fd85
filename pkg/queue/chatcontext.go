package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/agent/stagectx"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// buildChatResumeContext assembles the conversation a resumed chat stage
// needs: the newest unanswered user question, the completed exchanges before
// it, and the recorded investigation the questions are about.
func (e *ChainExecutor) buildChatResumeContext(ctx context.Context, session *ent.AlertSession, chainCtx *models.ChainContext) (*agent.ChatContext, error) {
	chat := chainCtx.ChatContext
	if chat == nil {
		return nil, fmt.Errorf("session %s has no chat context to resume", session.ID)
	}
	question := chat.LatestUserMessage()
	if question == "" {
		return nil, fmt.Errorf("session %s chat context has no user message", session.ID)
	}

	investigation, err := e.buildInvestigationContext(ctx, session)
	if err != nil {
		return nil, err
	}

	return &agent.ChatContext{
		UserQuestion:         question,
		InvestigationContext: investigation,
		ChatHistory:          chatHistoryOf(chat),
	}, nil
}

// chatHistoryOf folds the persisted conversation into completed exchanges,
// oldest first, leaving the trailing unanswered question out.
func chatHistoryOf(chat *models.ChatContext) []agent.ChatExchange {
	var history []agent.ChatExchange
	var question string
	var open bool
	for _, msg := range chat.Messages {
		switch msg.Role {
		case models.RoleUser:
			question, open = msg.Content, true
		case models.RoleAssistant:
			if !open {
				continue
			}
			history = append(history, agent.ChatExchange{
				UserQuestion: question,
				Messages: []models.ConversationMessage{
					{Role: models.RoleAssistant, Content: msg.Content},
				},
			})
			open = false
		}
	}
	return history
}

// buildInvestigationContext retells the session's recorded stages for the
// chat prompt. Top-level rows are deduped by stage index: rows arrive
// ordered by index then start time, and a synthesis row shares its parent's
// index but started later, so the parent wins.
func (e *ChainExecutor) buildInvestigationContext(ctx context.Context, session *ent.AlertSession) (string, error) {
	detail, err := e.store.GetSessionWithStages(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load session history: %w", err)
	}
	llm, err := e.store.GetLLMInteractions(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load LLM interactions: %w", err)
	}
	mcp, err := e.store.GetMCPInteractions(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load MCP interactions: %w", err)
	}
	llmByExec := groupLLMByExecution(llm)
	mcpByExec := groupMCPByExecution(mcp)

	var stages []stagectx.StageInvestigation
	seen := make(map[int]bool)
	for i := range detail.Stages {
		row := &detail.Stages[i]
		if row.ParentStageExecutionID != nil || seen[row.StageIndex] {
			continue
		}
		seen[row.StageIndex] = true

		inv := stagectx.StageInvestigation{
			StageName:  row.StageName,
			StageIndex: row.StageIndex,
		}

		out, parseErr := models.StageOutputFromMap(row.StageOutput)
		if parseErr == nil && out != nil && out.Parallel != nil {
			inv.Agents = stagectx.AgentsFromParallelResult(out.Parallel)
			if syn := out.Parallel.Synthesis; syn != nil && syn.Status == models.StageStatusCompleted {
				inv.SynthesisResult = syn.ResultSummary
			}
		} else {
			agentInv := stagectx.AgentInvestigation{
				AgentName:  row.Agent,
				AgentIndex: 1,
				Status:     row.Status,
				Events: stagectx.EventsFromInteractions(
					llmByExec[row.ExecutionID], mcpByExec[row.ExecutionID],
					row.Status == models.StageStatusCompleted,
				),
			}
			if row.ErrorMessage != nil {
				agentInv.ErrorMessage = *row.ErrorMessage
			}
			inv.Agents = []stagectx.AgentInvestigation{agentInv}
		}
		stages = append(stages, inv)
	}

	execSummary := ""
	if detail.ExecutiveSummary != nil {
		execSummary = *detail.ExecutiveSummary
	}
	return stagectx.FormatStructuredInvestigation(stages, execSummary), nil
}

// recordChatReply appends the resumed stage's answer to the session's
// conversation so later chat rounds replay it. Best-effort.
func (e *ChainExecutor) recordChatReply(ctx context.Context, session *ent.AlertSession, chainCtx *models.ChainContext, out stageOutcome) {
	if out.output == nil || out.output.Agent == nil || out.output.Agent.ResultSummary == "" {
		return
	}
	chat := chainCtx.ChatContext
	if chat == nil {
		return
	}
	chat.Messages = append(chat.Messages, models.ChatMessage{
		Role:        models.RoleAssistant,
		Content:     out.output.Agent.ResultSummary,
		TimestampUS: models.NowUS(),
	})
	if _, err := e.store.SetChatContext(ctx, session.ID, chat); err != nil {
		slog.Warn("Failed to record chat reply", "session_id", session.ID, "error", err)
	}
}

// groupLLMByExecution indexes recorded LLM interactions by their
// stage-execution row.
func groupLLMByExecution(interactions []models.LLMInteraction) map[string][]models.LLMInteraction {
	grouped := make(map[string][]models.LLMInteraction)
	for _, in := range interactions {
		if in.StageExecutionID != nil {
			grouped[*in.StageExecutionID] = append(grouped[*in.StageExecutionID], in)
		}
	}
	return grouped
}

// groupMCPByExecution indexes recorded MCP interactions by their
// stage-execution row.
func groupMCPByExecution(interactions []models.MCPInteraction) map[string][]models.MCPInteraction {
	grouped := make(map[string][]models.MCPInteraction)
	for _, in := range interactions {
		if in.StageExecutionID != nil {
			grouped[*in.StageExecutionID] = append(grouped[*in.StageExecutionID], in)
		}
	}
	return grouped
}
