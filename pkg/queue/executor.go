package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/agent/controller"
	"github.com/tarsy-bot/tarsy/pkg/agent/prompt"
	"github.com/tarsy-bot/tarsy/pkg/agent/stagectx"
	"github.com/tarsy-bot/tarsy/pkg/cancellation"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/mcp"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// ChainExecutor implements SessionExecutor on the agent framework: it
// resolves the session's chain, walks the stages in order building the
// chain context, and crowns a successful run with an executive summary.
type ChainExecutor struct {
	cfg           *config.Config
	store         SessionStore
	llmClient     agent.LLMClient
	hooks         *hooks.Manager
	tracker       *cancellation.Tracker
	agentFactory  *agent.AgentFactory
	promptBuilder *prompt.Builder
	mcpFactory    *mcp.ClientFactory
	stream        agent.StreamPublisher
}

// NewChainExecutor creates a session executor.
// mcpFactory may be nil (MCP disabled — agents run with a stub tool executor).
// stream may be nil (LLM streaming disabled).
func NewChainExecutor(
	cfg *config.Config,
	store SessionStore,
	llmClient agent.LLMClient,
	hookMgr *hooks.Manager,
	tracker *cancellation.Tracker,
	mcpFactory *mcp.ClientFactory,
	stream agent.StreamPublisher,
) *ChainExecutor {
	return &ChainExecutor{
		cfg:           cfg,
		store:         store,
		llmClient:     llmClient,
		hooks:         hookMgr,
		tracker:       tracker,
		agentFactory:  agent.NewAgentFactory(controller.NewFactory()),
		promptBuilder: prompt.NewBuilder(cfg.MCPServers),
		mcpFactory:    mcpFactory,
		stream:        stream,
	}
}

// ────────────────────────────────────────────────────────────
// Internal types
// ────────────────────────────────────────────────────────────

// stageOutcome captures one chain stage's resting condition.
type stageOutcome struct {
	stageName  string
	agentLabel string
	status     models.StageStatus
	output     *models.StageOutput
	err        error

	// children holds per-agent results of a parallel stage so session
	// classification can tell an all-cancellations fan-out apart from a
	// real failure.
	isParallel bool
	children   []models.AgentExecutionResult
}

// resumePoint says where a re-enqueued session picks the chain back up.
type resumePoint struct {
	startIndex int
	// pausedRow is set when the stage at startIndex is re-run in place
	// (chat resumption) rather than started fresh.
	pausedRow *models.StageExecution
}

// agentAttempt pairs the persisted outcome of one agent run with telemetry
// that only the parallel aggregation record keeps.
type agentAttempt struct {
	result models.AgentExecutionResult
	tokens *models.TokenUsage
}

// agentRunInput groups the parameters of one agent attempt. A pre-resolved
// config (parallel children, synthesis) short-circuits resolution inside
// runAgent; single stages leave it nil.
type agentRunInput struct {
	session    *ent.AlertSession
	chainCtx   *models.ChainContext
	stage      config.StageConfig
	stageAgent config.StageAgentConfig
	resolved   *agent.ResolvedAgentConfig
	row        *models.StageExecution
	agentIndex int
	chat       *agent.ChatContext
}

// ────────────────────────────────────────────────────────────
// Execute — main entry point (chain loop)
// ────────────────────────────────────────────────────────────

// Execute runs the session through its chain. Stages execute sequentially;
// the chain stops at the first stage that neither completed nor went
// partial (fail-fast), or parks when a stage pauses. A finished chain gets
// an executive summary (fail-open).
func (e *ChainExecutor) Execute(ctx context.Context, session *ent.AlertSession) *ExecutionResult {
	logger := slog.With(
		"session_id", session.ID,
		"chain_id", session.ChainID,
		"alert_type", session.AlertType,
	)
	logger.Info("Chain executor: starting session")

	chain, err := e.cfg.Chains.Get(session.ChainID)
	if err != nil {
		logger.Error("Failed to resolve chain", "error", err)
		return &ExecutionResult{
			Status: models.SessionStatusFailed,
			Error:  fmt.Errorf("failed to resolve chain %q: %w", session.ChainID, err),
		}
	}
	if len(chain.Stages) == 0 {
		return &ExecutionResult{
			Status: models.SessionStatusFailed,
			Error:  fmt.Errorf("chain %q has no stages", session.ChainID),
		}
	}

	chainCtx, err := buildChainContext(session)
	if err != nil {
		return &ExecutionResult{Status: models.SessionStatusFailed, Error: err}
	}

	resume, err := e.continuationPoint(ctx, session)
	if err != nil {
		return &ExecutionResult{Status: models.SessionStatusFailed, Error: err}
	}
	if resume.startIndex > 0 {
		if err := e.rebuildStageOutputs(ctx, session.ID, resume.startIndex, chainCtx); err != nil {
			return &ExecutionResult{Status: models.SessionStatusFailed, Error: err}
		}
	}
	if resume.startIndex >= len(chain.Stages) && resume.pausedRow == nil {
		// Every stage already completed in a previous run (the last parallel
		// stage was resolved by per-agent cancellation); skip straight to
		// the summary.
		logger.Info("All stages already complete, resuming at finalization")
	}

	var chat *agent.ChatContext
	if resume.pausedRow != nil {
		chat, err = e.buildChatResumeContext(ctx, session, chainCtx)
		if err != nil {
			return &ExecutionResult{Status: models.SessionStatusFailed, Error: err}
		}
	}

	for i := resume.startIndex; i < len(chain.Stages); i++ {
		if r := e.mapCancellation(ctx, session.ID); r != nil {
			return r
		}

		stage := chain.Stages[i]
		chainCtx.CurrentStageName = stage.Name

		var out stageOutcome
		if stage.IsParallel() {
			out = e.runParallelStage(ctx, session, chainCtx, stage, i)
		} else {
			var pausedRow *models.StageExecution
			var chatCtx *agent.ChatContext
			if resume.pausedRow != nil && i == resume.startIndex {
				pausedRow = resume.pausedRow
				chatCtx = chat
			}
			out = e.runSingleStage(ctx, session, chainCtx, stage, i, pausedRow, chatCtx)
		}

		switch out.status {
		case models.StageStatusCompleted, models.StageStatusPartial:
			if out.output != nil {
				chainCtx.AppendStageOutput(stage.Name, *out.output)
			}
			if resume.pausedRow != nil && i == resume.startIndex {
				e.recordChatReply(ctx, session, chainCtx, out)
			}
		case models.StageStatusPaused:
			logger.Info("Stage paused, awaiting external resumption", "stage_name", out.stageName)
			return &ExecutionResult{Status: models.SessionStatusPaused}
		default:
			logger.Warn("Stage did not complete, stopping chain",
				"stage_name", out.stageName,
				"stage_status", out.status,
				"error", out.err,
			)
			return &ExecutionResult{
				Status: sessionStatusFor(out),
				Error:  errors.New(composeChainError([]stageOutcome{out})),
			}
		}
	}

	finalAnalysis := extractFinalAnalysis(chainCtx.StageOutputs)

	// Executive summary is fail-open: a summary failure never sinks a
	// completed investigation.
	var execSummary string
	if finalAnalysis != "" {
		summary, summaryErr := e.generateExecutiveSummary(ctx, session, finalAnalysis)
		if summaryErr != nil {
			logger.Warn("Executive summary generation failed", "error", summaryErr)
		} else {
			execSummary = summary
		}
	}

	logger.Info("Chain executor: session completed",
		"stages_completed", len(chainCtx.StageOutputs),
		"has_final_analysis", finalAnalysis != "",
		"has_executive_summary", execSummary != "",
	)

	return &ExecutionResult{
		Status:           models.SessionStatusCompleted,
		FinalAnalysis:    finalAnalysis,
		ExecutiveSummary: execSummary,
	}
}

// ────────────────────────────────────────────────────────────
// Continuation
// ────────────────────────────────────────────────────────────

// continuationPoint inspects the session's progress markers to find where
// execution begins. Fresh sessions start at stage zero. When the current
// stage-execution row completed (a parallel stage resolved by per-agent
// cancellation), the chain continues after it; a paused row is re-run in
// place with the session's chat context attached.
func (e *ChainExecutor) continuationPoint(ctx context.Context, session *ent.AlertSession) (resumePoint, error) {
	if session.CurrentStageIndex == nil || session.CurrentStageID == nil {
		return resumePoint{}, nil
	}
	row, err := e.store.GetStageExecution(ctx, *session.CurrentStageID)
	if err != nil {
		return resumePoint{}, fmt.Errorf("failed to load current stage execution: %w", err)
	}
	switch row.Status {
	case models.StageStatusCompleted, models.StageStatusPartial:
		return resumePoint{startIndex: row.StageIndex + 1}, nil
	case models.StageStatusPaused:
		return resumePoint{startIndex: row.StageIndex, pausedRow: row}, nil
	default:
		// Only completed rows advance; anything else re-runs its stage.
		return resumePoint{startIndex: row.StageIndex}, nil
	}
}

// rebuildStageOutputs reloads the persisted outputs of stages that completed
// in a previous run, restoring the chain context a continuation needs. Only
// top-level rows carry chain-visible outputs, and the first row per stage
// index wins: a synthesis row shares its parent's index but never records an
// output of its own.
func (e *ChainExecutor) rebuildStageOutputs(ctx context.Context, sessionID string, before int, chainCtx *models.ChainContext) error {
	detail, err := e.store.GetSessionWithStages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load prior stage outputs: %w", err)
	}

	seen := make(map[int]bool)
	for i := range detail.Stages {
		row := &detail.Stages[i]
		if row.ParentStageExecutionID != nil || row.StageIndex >= before || seen[row.StageIndex] {
			continue
		}
		if row.StageOutput == nil {
			continue
		}
		out, err := models.StageOutputFromMap(row.StageOutput)
		if err != nil {
			return fmt.Errorf("failed to decode output of stage %q: %w", row.StageName, err)
		}
		if out == nil {
			continue
		}
		chainCtx.AppendStageOutput(row.StageName, *out)
		seen[row.StageIndex] = true
	}
	return nil
}

// buildChainContext reconstructs the typed alert and per-session overrides
// from the persisted session row. Reserved alert_data keys carry the
// runbook text and severity submitted with the alert.
func buildChainContext(session *ent.AlertSession) (*models.ChainContext, error) {
	mcpSel, err := models.MCPSelectionFromMap(session.McpSelection)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mcp selection: %w", err)
	}
	chatCtx, err := models.ChatContextFromMap(session.ChatContext)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chat context: %w", err)
	}

	alert := models.Alert{
		AlertType:   session.AlertType,
		Data:        session.AlertData,
		TimestampUS: session.StartedAtUs,
		MCP:         mcpSel,
	}
	if runbook, ok := session.AlertData["runbook"].(string); ok {
		alert.Runbook = runbook
	}
	if severity, ok := session.AlertData["severity"].(string); ok {
		alert.Severity = severity
	}

	return &models.ChainContext{
		SessionID:       session.ID,
		ProcessingAlert: alert,
		MCP:             mcpSel,
		ChatContext:     chatCtx,
	}, nil
}

// ────────────────────────────────────────────────────────────
// Single-stage execution
// ────────────────────────────────────────────────────────────

// runSingleStage executes a one-agent stage. A non-nil pausedRow re-runs
// that row in place (chat resumption) instead of creating a fresh one.
func (e *ChainExecutor) runSingleStage(
	ctx context.Context,
	session *ent.AlertSession,
	chainCtx *models.ChainContext,
	stage config.StageConfig,
	stageIndex int,
	pausedRow *models.StageExecution,
	chat *agent.ChatContext,
) stageOutcome {
	row := pausedRow
	if row == nil {
		row = newStageRow(session.ID, stage.Name, stage.Name, stageIndex, stage.Agent, nil)
		e.hooks.TriggerStageHooks(ctx, row)
	}
	e.setCurrentStage(ctx, session.ID, stageIndex, row.ExecutionID)

	attempt := e.runAgent(ctx, agentRunInput{
		session:    session,
		chainCtx:   chainCtx,
		stage:      stage,
		stageAgent: config.StageAgentConfig{Name: stage.Agent},
		row:        row,
		agentIndex: 0,
		chat:       chat,
	})
	result := attempt.result

	out := stageOutcome{
		stageName:  stage.Name,
		agentLabel: stage.Agent,
		status:     result.Status,
	}
	if result.ErrorMessage != nil {
		out.err = errors.New(*result.ErrorMessage)
	}
	if result.Status == models.StageStatusCompleted {
		out.output = &models.StageOutput{Agent: &result}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// runAgent — one agent attempt against one stage-execution row
// ────────────────────────────────────────────────────────────

// runAgent owns the row's lifecycle from activation to its resting update;
// the returned result always mirrors the row's final state. The row must
// already exist (pending, or paused when resuming).
func (e *ChainExecutor) runAgent(ctx context.Context, in agentRunInput) agentAttempt {
	logger := slog.With(
		"session_id", in.session.ID,
		"execution_id", in.row.ExecutionID,
		"agent_name", in.row.Agent,
	)

	resolved := in.resolved
	if resolved == nil {
		var err error
		resolved, err = agent.ResolveAgentConfig(e.cfg, in.stage, in.stageAgent)
		if err != nil {
			logger.Error("Failed to resolve agent config", "error", err)
			return agentAttempt{result: e.finalizeAttempt(ctx, in.row, models.StageStatusFailed,
				fmt.Errorf("failed to resolve agent config: %w", err), "")}
		}
	}
	if in.chainCtx.ChatContext != nil && !resolved.ForceConclusion {
		// Once a conversation exists the session must keep answering:
		// budget exhaustion concludes instead of parking the stage again.
		forced := *resolved
		forced.ForceConclusion = true
		resolved = &forced
	}

	serverIDs, toolFilter, err := resolveToolSelection(in.chainCtx.MCP, resolved, e.cfg.MCPServers)
	if err != nil {
		logger.Error("Failed to resolve MCP selection", "error", err)
		return agentAttempt{result: e.finalizeAttempt(ctx, in.row, models.StageStatusFailed,
			fmt.Errorf("invalid mcp selection: %w", err), "")}
	}

	// Activate the row. Resumed rows keep their original start stamp.
	// Child rows carry their effective config so per-agent views don't
	// need to re-run resolution.
	now := models.NowUS()
	if in.row.StartedAtUS == nil {
		in.row.StartedAtUS = &now
	}
	in.row.Status = models.StageStatusActive
	if in.row.ParentStageExecutionID != nil {
		in.row.ExecutionConfig = executionConfigMap(resolved)
	}
	e.hooks.TriggerStageHooks(ctx, in.row)

	toolExecutor, failedServers := e.createToolExecutor(ctx, in.session.ID, in.row.ExecutionID, serverIDs, toolFilter, resolved, logger)
	defer func() { _ = toolExecutor.Close() }()

	execCtx := &agent.ExecutionContext{
		SessionID:        in.session.ID,
		StageID:          in.row.StageID,
		ExecutionID:      in.row.ExecutionID,
		AgentName:        in.row.Agent,
		AgentIndex:       in.agentIndex,
		AlertData:        alertDataText(in.session.AlertData),
		AlertType:        in.session.AlertType,
		RunbookContent:   in.chainCtx.ProcessingAlert.Runbook,
		PrevStageContext: stagectx.BuildStageContext(stagectx.ResultsFromChain(in.chainCtx.StageOutputs)),
		Config:           resolved,
		LLMClient:        e.llmClient,
		ToolExecutor:     toolExecutor,
		Hooks:            e.hooks,
		Stream:           e.stream,
		PromptBuilder:    e.promptBuilder,
		ChatContext:      in.chat,
		FailedServers:    failedServers,
	}

	agentInstance, err := e.agentFactory.CreateAgent(execCtx)
	if err != nil {
		logger.Error("Failed to create agent", "error", err)
		return agentAttempt{result: e.finalizeAttempt(ctx, in.row, models.StageStatusFailed, err, "")}
	}

	result, err := agentInstance.Execute(ctx, execCtx)
	return e.settleAttempt(ctx, in.session.ID, in.row, result, err)
}

// settleAttempt classifies an agent's outcome against the session context
// and writes the row's resting state. Cancellation messages are normalized
// from the final status so rows never carry raw context errors.
func (e *ChainExecutor) settleAttempt(
	ctx context.Context,
	sessionID string,
	row *models.StageExecution,
	result *agent.ExecutionResult,
	execErr error,
) agentAttempt {
	if execErr != nil || result == nil {
		if execErr == nil {
			execErr = fmt.Errorf("agent returned no result")
		}
		status := models.StageStatusFailed
		if ctx.Err() != nil {
			status, execErr = e.classifyCancellation(sessionID)
		}
		slog.Error("Agent execution error",
			"session_id", sessionID,
			"execution_id", row.ExecutionID,
			"error", execErr,
			"status", status,
		)
		return agentAttempt{result: e.finalizeAttempt(ctx, row, status, execErr, "")}
	}

	status := stageStatusFromExecution(result.Status)
	attemptErr := result.Error

	// A cancelled or expired session context overrides whatever the agent
	// reported: the agent may have failed on an unrelated symptom of the
	// teardown, like an aborted LLM stream or a closed tool transport.
	if ctx.Err() != nil &&
		status != models.StageStatusCancelled && status != models.StageStatusTimedOut {
		status, attemptErr = e.classifyCancellation(sessionID)
	}
	switch status {
	case models.StageStatusCancelled:
		attemptErr = fmt.Errorf("cancelled by user")
	case models.StageStatusTimedOut:
		attemptErr = fmt.Errorf("timed out")
	}

	attempt := agentAttempt{result: e.finalizeAttempt(ctx, row, status, attemptErr, result.FinalAnalysis)}
	if result.TokensUsed != (models.TokenUsage{}) {
		tokens := result.TokensUsed
		attempt.tokens = &tokens
	}
	return attempt
}

// finalizeAttempt writes the attempt's resting condition to its row and
// mirrors it as an AgentExecutionResult. The hook fabric detaches the write
// from ctx so a cancelled session still lands its final state.
func (e *ChainExecutor) finalizeAttempt(
	ctx context.Context,
	row *models.StageExecution,
	status models.StageStatus,
	attemptErr error,
	finalAnalysis string,
) models.AgentExecutionResult {
	now := models.NowUS()
	if row.StartedAtUS == nil {
		// Failed before activation; record a zero-length run.
		row.StartedAtUS = &now
	}
	row.Status = status

	result := models.AgentExecutionResult{
		Status:      status,
		AgentName:   row.Agent,
		StageName:   row.StageName,
		TimestampUS: now,
	}
	if attemptErr != nil {
		msg := attemptErr.Error()
		row.ErrorMessage = &msg
		result.ErrorMessage = &msg
	}

	if status == models.StageStatusPaused {
		row.PausedAtUS = &now
	} else {
		row.CompletedAtUS = &now
		duration := models.DurationMSFrom(*row.StartedAtUS, now)
		row.DurationMS = &duration
	}

	if status == models.StageStatusCompleted {
		result.ResultSummary = finalAnalysis
		out := models.StageOutput{Agent: &result}
		if m, mapErr := out.AsMap(); mapErr == nil {
			row.StageOutput = m
		}
	}

	e.hooks.TriggerStageHooks(ctx, row)
	return result
}

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

// newStageRow assembles a pending stage-execution row. The execution id is
// assigned up front so hook captures and in-memory state share one identity.
func newStageRow(sessionID, stageName, stageID string, stageIndex int, agentLabel string, parentID *string) *models.StageExecution {
	return &models.StageExecution{
		ExecutionID:            uuid.New().String(),
		SessionID:              sessionID,
		ParentStageExecutionID: parentID,
		StageName:              stageName,
		StageIndex:             stageIndex,
		StageID:                stageID,
		Agent:                  agentLabel,
		Status:                 models.StageStatusPending,
	}
}

// setCurrentStage advances the session's progress markers. Best-effort.
func (e *ChainExecutor) setCurrentStage(ctx context.Context, sessionID string, stageIndex int, executionID string) {
	if _, err := e.store.SetCurrentStage(ctx, sessionID, stageIndex, executionID); err != nil {
		slog.Warn("Failed to update session progress",
			"session_id", sessionID,
			"stage_index", stageIndex,
			"error", err,
		)
	}
}

// createToolExecutor connects the attempt's MCP servers, scoping captures to
// its stage-execution row and bounding tool results by the provider budget.
// Falls back to a stub executor when MCP is disabled or unreachable.
func (e *ChainExecutor) createToolExecutor(
	ctx context.Context,
	sessionID string,
	executionID string,
	serverIDs []string,
	toolFilter map[string][]string,
	resolved *agent.ResolvedAgentConfig,
	logger *slog.Logger,
) (agent.ToolExecutor, map[string]string) {
	if e.mcpFactory == nil || len(serverIDs) == 0 {
		return agent.NewStubToolExecutor(nil), nil
	}

	executor, client, err := e.mcpFactory.CreateToolExecutor(ctx, sessionID, serverIDs, toolFilter)
	if err != nil {
		logger.Warn("Failed to create MCP tool executor, using stub", "error", err)
		failed := make(map[string]string, len(serverIDs))
		for _, id := range serverIDs {
			failed[id] = err.Error()
		}
		return agent.NewStubToolExecutor(nil), failed
	}

	scoped := executor.ForStage(executionID)
	if resolved.LLMProvider != nil && resolved.LLMProvider.MaxToolResultTokens > 0 {
		scoped = scoped.WithResultBudget(resolved.LLMProvider.MaxToolResultTokens)
	}
	return scoped, client.FailedServers()
}

// resolveToolSelection decides which MCP servers and tools an attempt may
// use. A per-alert selection replaces the agent's resolved server list
// entirely; every named server must exist in the registry. Without a
// selection the resolved servers apply with no tool filter.
func resolveToolSelection(
	sel *models.MCPSelectionConfig,
	resolved *agent.ResolvedAgentConfig,
	registry *config.MCPServerRegistry,
) ([]string, map[string][]string, error) {
	if sel == nil {
		return resolved.MCPServers, nil, nil
	}
	if len(sel.Servers) == 0 {
		return nil, nil, fmt.Errorf("mcp selection has no servers")
	}

	serverIDs := make([]string, 0, len(sel.Servers))
	toolFilter := make(map[string][]string)
	for _, server := range sel.Servers {
		if registry == nil || !registry.Has(server.Name) {
			return nil, nil, fmt.Errorf("mcp server %q not found", server.Name)
		}
		serverIDs = append(serverIDs, server.Name)
		if tools, ok := sel.ToolsFor(server.Name); ok && len(tools) > 0 {
			toolFilter[server.Name] = tools
		}
	}
	if len(toolFilter) == 0 {
		toolFilter = nil
	}
	return serverIDs, toolFilter, nil
}

// executionConfigMap flattens a resolved config into the shape stored on
// child stage-execution rows.
func executionConfigMap(resolved *agent.ResolvedAgentConfig) map[string]any {
	return map[string]any{
		"agent":              resolved.AgentName,
		"llm_provider":       resolved.LLMProviderName,
		"iteration_strategy": string(resolved.IterationStrategy),
		"max_iterations":     resolved.MaxIterations,
		"force_conclusion":   resolved.ForceConclusion,
		"mcp_servers":        resolved.MCPServers,
	}
}

// alertDataText renders the alert payload for prompt embedding.
func alertDataText(data map[string]any) string {
	if len(data) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}

// mapCancellation turns a dead session context into a classified result, or
// nil while the context is still live.
func (e *ChainExecutor) mapCancellation(ctx context.Context, sessionID string) *ExecutionResult {
	if ctx.Err() == nil {
		return nil
	}
	if e.tracker.IsUserCancel(sessionID) {
		return &ExecutionResult{
			Status: models.SessionStatusCancelled,
			Error:  fmt.Errorf("session cancelled by user"),
		}
	}
	return &ExecutionResult{
		Status: models.SessionStatusTimedOut,
		Error:  fmt.Errorf("session timed out"),
	}
}

// classifyCancellation consults the cancellation tracker to tell a user
// cancel apart from a timeout, yielding the stage-row status and message.
func (e *ChainExecutor) classifyCancellation(sessionID string) (models.StageStatus, error) {
	if e.tracker.IsUserCancel(sessionID) {
		return models.StageStatusCancelled, fmt.Errorf("cancelled by user")
	}
	return models.StageStatusTimedOut, fmt.Errorf("timed out")
}

// stageStatusFromExecution maps the controller's terminal status onto the
// stage-row domain. Pending and active never legitimately reach this point;
// mapping them to failed keeps rows out of a stuck non-terminal state.
func stageStatusFromExecution(status agent.ExecutionStatus) models.StageStatus {
	switch status {
	case agent.ExecutionStatusCompleted:
		return models.StageStatusCompleted
	case agent.ExecutionStatusPaused:
		return models.StageStatusPaused
	case agent.ExecutionStatusTimedOut:
		return models.StageStatusTimedOut
	case agent.ExecutionStatusCancelled:
		return models.StageStatusCancelled
	default:
		return models.StageStatusFailed
	}
}

// ────────────────────────────────────────────────────────────
// Session classification & error aggregation
// ────────────────────────────────────────────────────────────

// sessionStatusFor maps the outcome of the stage that stopped the chain
// onto the session. Single stages carry their status over directly. A
// failed parallel stage sinks the session as cancelled only when every
// non-success child was cancelled; a timed-out or failed child makes it a
// real failure.
func sessionStatusFor(out stageOutcome) models.SessionStatus {
	switch out.status {
	case models.StageStatusTimedOut:
		return models.SessionStatusTimedOut
	case models.StageStatusCancelled:
		return models.SessionStatusCancelled
	case models.StageStatusFailed:
		if out.isParallel && allNonSuccessCancelled(out.children) {
			return models.SessionStatusCancelled
		}
		return models.SessionStatusFailed
	default:
		return models.SessionStatusFailed
	}
}

// allNonSuccessCancelled reports whether the fan-out's non-success children
// were cancellations and nothing else. False when no child is non-success.
func allNonSuccessCancelled(children []models.AgentExecutionResult) bool {
	nonSuccess := 0
	for _, c := range children {
		if c.Status == models.StageStatusCompleted {
			continue
		}
		if c.Status != models.StageStatusCancelled {
			return false
		}
		nonSuccess++
	}
	return nonSuccess > 0
}

// composeChainError builds the session error message from the stages that
// stopped the chain.
func composeChainError(failures []stageOutcome) string {
	units := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.isParallel {
			units = append(units, parallelFailureMessage(f.stageName, f.children))
			continue
		}
		units = append(units, fmt.Sprintf("stage '%s' (%s): %s", f.stageName, f.agentLabel, failureText(f.err)))
	}

	switch len(units) {
	case 0:
		return "Chain processing failed: One or more stages failed without detailed error messages"
	case 1:
		if failures[0].isParallel {
			return units[0]
		}
		return fmt.Sprintf("Chain processing failed at %s", units[0])
	default:
		return fmt.Sprintf("Chain processing failed (%d stage failures): %s",
			len(units), strings.Join(units, "; "))
	}
}

// parallelFailureMessage lists each non-success child of a failed parallel
// stage, labelled so a human can tell real errors from cancellations.
// Timed-out children count as failures.
func parallelFailureMessage(stageName string, children []models.AgentExecutionResult) string {
	var parts []string
	for _, c := range children {
		if c.Status == models.StageStatusCompleted {
			continue
		}
		label := "failed"
		if c.Status == models.StageStatusCancelled {
			label = "cancelled"
		}
		msg := "no error message"
		if c.ErrorMessage != nil && *c.ErrorMessage != "" {
			msg = *c.ErrorMessage
		}
		parts = append(parts, fmt.Sprintf("%s (%s): %s", c.AgentName, label, msg))
	}
	return fmt.Sprintf("Parallel stage '%s' failed: %d agents: %s",
		stageName, len(parts), strings.Join(parts, "; "))
}

func failureText(err error) string {
	if err == nil || err.Error() == "" {
		return "Failed with no error message"
	}
	return err.Error()
}

// extractFinalAnalysis walks the chain outputs backwards for the most
// recent analysis: an agent's result summary, or the synthesis summary of a
// parallel stage. A parallel stage without synthesis contributes nothing.
func extractFinalAnalysis(outputs []models.StageOutputEntry) string {
	for i := len(outputs) - 1; i >= 0; i-- {
		out := outputs[i].Output
		switch {
		case out.Agent != nil && out.Agent.ResultSummary != "":
			return out.Agent.ResultSummary
		case out.Parallel != nil && out.Parallel.Synthesis != nil &&
			out.Parallel.Synthesis.Status == models.StageStatusCompleted &&
			out.Parallel.Synthesis.ResultSummary != "":
			return out.Parallel.Synthesis.ResultSummary
		}
	}
	return ""
}

// generateExecutiveSummary condenses the final analysis through a single
// session-level LLM call (no tools, no stage attribution).
func (e *ChainExecutor) generateExecutiveSummary(ctx context.Context, session *ent.AlertSession, finalAnalysis string) (string, error) {
	provider, err := e.cfg.DefaultProvider()
	if err != nil {
		return "", fmt.Errorf("executive summary provider not available: %w", err)
	}

	execCtx := &agent.ExecutionContext{
		SessionID: session.ID,
		AgentName: "ExecutiveSummary",
		Config: &agent.ResolvedAgentConfig{
			AgentName:       "ExecutiveSummary",
			LLMProvider:     provider,
			LLMProviderName: e.cfg.Defaults.LLMProvider,
			Backend:         agent.ResolveBackend(e.cfg.Defaults.IterationStrategy),
		},
		LLMClient:     e.llmClient,
		Hooks:         e.hooks,
		PromptBuilder: e.promptBuilder,
	}
	return controller.RunExecutiveSummary(ctx, execCtx, finalAnalysis)
}
