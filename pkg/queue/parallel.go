package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/agent/controller"
	"github.com/tarsy-bot/tarsy/pkg/agent/stagectx"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// childSpec is one planned agent of a parallel fan-out.
type childSpec struct {
	display    string
	stageAgent config.StageAgentConfig
}

// indexedChildResult carries a child's outcome back with its launch slot so
// collected results keep configuration order regardless of finish order.
type indexedChildResult struct {
	index   int
	attempt agentAttempt
}

// ────────────────────────────────────────────────────────────
// Parallel stage execution
// ────────────────────────────────────────────────────────────

// runParallelStage fans a stage out to its agents, folds their terminal
// statuses under the stage's success policy, and optionally runs a synthesis
// pass over the combined results. The parent row carries the stage-level
// label and the aggregation record; each agent gets a child row of its own.
func (e *ChainExecutor) runParallelStage(
	ctx context.Context,
	session *ent.AlertSession,
	chainCtx *models.ChainContext,
	stage config.StageConfig,
	stageIndex int,
) stageOutcome {
	specs := expandChildSpecs(stage)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.display
	}

	logger := slog.With(
		"session_id", session.ID,
		"stage_name", stage.Name,
		"agent_count", len(specs),
	)
	logger.Info("Starting parallel stage")

	parent := newStageRow(session.ID, stage.Name, stage.Name, stageIndex, strings.Join(names, ", "), nil)
	e.hooks.TriggerStageHooks(ctx, parent)
	e.setCurrentStage(ctx, session.ID, stageIndex, parent.ExecutionID)

	startUS := models.NowUS()
	parent.StartedAtUS = &startUS
	parent.Status = models.StageStatusActive
	e.hooks.TriggerStageHooks(ctx, parent)

	// Resolve every child's config up front: the aggregation record wants
	// provider and strategy even for children that never launch.
	resolvedConfigs := make([]*agent.ResolvedAgentConfig, len(specs))
	resolveErrs := make([]error, len(specs))
	for i, spec := range specs {
		resolvedConfigs[i], resolveErrs[i] = agent.ResolveAgentConfig(e.cfg, stage, spec.stageAgent)
	}

	childRows := make([]*models.StageExecution, len(specs))
	results := make(chan indexedChildResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		row := newStageRow(session.ID, stage.Name, stage.Name, stageIndex, spec.display, &parent.ExecutionID)
		childRows[i] = row
		e.hooks.TriggerStageHooks(ctx, row)

		if resolveErrs[i] != nil {
			// Never launched; the row still records why.
			result := e.finalizeAttempt(ctx, row, models.StageStatusFailed,
				fmt.Errorf("failed to resolve agent config: %w", resolveErrs[i]), "")
			results <- indexedChildResult{index: i, attempt: agentAttempt{result: result}}
			continue
		}

		wg.Add(1)
		go func(i int, spec childSpec, row *models.StageExecution) {
			defer wg.Done()
			attempt := e.runAgent(ctx, agentRunInput{
				session:    session,
				chainCtx:   chainCtx,
				stage:      stage,
				stageAgent: spec.stageAgent,
				resolved:   resolvedConfigs[i],
				row:        row,
				agentIndex: i,
			})
			results <- indexedChildResult{index: i, attempt: attempt}
		}(i, spec, row)
	}
	wg.Wait()
	close(results)

	attempts := make([]agentAttempt, len(specs))
	for r := range results {
		attempts[r.index] = r.attempt
	}
	children := make([]models.AgentExecutionResult, len(specs))
	for i, a := range attempts {
		children[i] = a.result
	}

	policy := stage.EffectiveSuccessPolicy()
	aggregate := aggregateStatus(children, policy)
	logger.Info("Parallel stage children finished",
		"aggregate_status", aggregate,
		"success_policy", policy,
	)

	result := &models.ParallelStageResult{
		StageName: stage.Name,
		Results:   children,
		Metadata: models.ParallelStageMetadata{
			ParentStageExecutionID: parent.ExecutionID,
			ParallelType:           parallelTypeOf(stage),
			SuccessPolicy:          string(policy),
			StartedAtUS:            startUS,
			Agents:                 childMetadata(resolvedConfigs, attempts),
		},
	}

	switch aggregate {
	case models.StageStatusPaused:
		// Per-agent cancellation reads the success policy and sibling
		// results off the parent row, so the partial aggregation record
		// must land before the stage goes dormant.
		e.finalizeParent(ctx, parent, models.StageStatusPaused, nil, result)
		return stageOutcome{
			stageName:  stage.Name,
			status:     models.StageStatusPaused,
			isParallel: true,
			children:   children,
		}

	case models.StageStatusCompleted:
		if stage.Synthesis == nil {
			e.finalizeParent(ctx, parent, models.StageStatusCompleted, nil, result)
			return stageOutcome{
				stageName:  stage.Name,
				status:     models.StageStatusCompleted,
				output:     &models.StageOutput{Parallel: result},
				isParallel: true,
				children:   children,
			}
		}
		return e.runSynthesisPhase(ctx, session, chainCtx, stage, stageIndex, parent, childRows, resolvedConfigs, result)

	default:
		err := errors.New(parallelFailureMessage(stage.Name, children))
		e.finalizeParent(ctx, parent, models.StageStatusFailed, err, result)
		return stageOutcome{
			stageName:  stage.Name,
			status:     models.StageStatusFailed,
			err:        err,
			isParallel: true,
			children:   children,
		}
	}
}

// finalizeParent writes the parallel stage's resting state to the parent
// row, embedding the aggregation record as its output.
func (e *ChainExecutor) finalizeParent(
	ctx context.Context,
	parent *models.StageExecution,
	status models.StageStatus,
	stageErr error,
	result *models.ParallelStageResult,
) {
	now := models.NowUS()
	parent.Status = status
	result.Status = status
	result.TimestampUS = now

	if stageErr != nil {
		msg := stageErr.Error()
		parent.ErrorMessage = &msg
	}
	if status == models.StageStatusPaused {
		parent.PausedAtUS = &now
	} else {
		parent.CompletedAtUS = &now
		duration := models.DurationMSFrom(*parent.StartedAtUS, now)
		parent.DurationMS = &duration
		result.Metadata.CompletedAtUS = now
	}

	out := models.StageOutput{Parallel: result}
	if m, err := out.AsMap(); err == nil {
		parent.StageOutput = m
	}
	e.hooks.TriggerStageHooks(ctx, parent)
}

// ────────────────────────────────────────────────────────────
// Synthesis
// ────────────────────────────────────────────────────────────

// runSynthesisPhase runs the stage's synthesis agent over the child results
// and settles the parent from the synthesis outcome: completed synthesis
// yields a completed stage, or partial when the policy tolerated failures;
// anything else becomes the stage's status. The synthesis run gets a
// top-level row sharing the parent's stage index.
func (e *ChainExecutor) runSynthesisPhase(
	ctx context.Context,
	session *ent.AlertSession,
	chainCtx *models.ChainContext,
	stage config.StageConfig,
	stageIndex int,
	parent *models.StageExecution,
	childRows []*models.StageExecution,
	resolvedConfigs []*agent.ResolvedAgentConfig,
	result *models.ParallelStageResult,
) stageOutcome {
	synthesisName := stage.Name + " - Synthesis"

	resolved, err := agent.ResolveSynthesisConfig(e.cfg, stage)
	if err != nil {
		// The row label falls back to the declared agent so the failure is
		// attributable even though resolution never produced a config.
		label := stage.Synthesis.Agent
		if label == "" {
			label = agent.DefaultSynthesisAgent
		}
		row := newStageRow(session.ID, synthesisName, stage.Name, stageIndex, label, nil)
		e.hooks.TriggerStageHooks(ctx, row)
		synResult := e.finalizeAttempt(ctx, row, models.StageStatusFailed,
			fmt.Errorf("failed to resolve synthesis config: %w", err), "")
		return e.settleSynthesis(ctx, stage, parent, result, row, synResult)
	}

	row := newStageRow(session.ID, synthesisName, stage.Name, stageIndex, resolved.AgentName, nil)
	e.hooks.TriggerStageHooks(ctx, row)

	now := models.NowUS()
	row.StartedAtUS = &now
	row.Status = models.StageStatusActive
	e.hooks.TriggerStageHooks(ctx, row)

	execCtx := &agent.ExecutionContext{
		SessionID:        session.ID,
		StageID:          row.StageID,
		ExecutionID:      row.ExecutionID,
		AgentName:        row.Agent,
		AlertData:        alertDataText(session.AlertData),
		AlertType:        session.AlertType,
		RunbookContent:   chainCtx.ProcessingAlert.Runbook,
		PrevStageContext: e.synthesisContext(ctx, session.ID, stage.Name, childRows, resolvedConfigs, result.Results),
		Config:           resolved,
		LLMClient:        e.llmClient,
		Hooks:            e.hooks,
		Stream:           e.stream,
		PromptBuilder:    e.promptBuilder,
	}

	synth := agent.NewBaseAgent(controller.NewSynthesisController())
	execResult, execErr := synth.Execute(ctx, execCtx)
	attempt := e.settleAttempt(ctx, session.ID, row, execResult, execErr)
	return e.settleSynthesis(ctx, stage, parent, result, row, attempt.result)
}

// settleSynthesis folds the synthesis outcome into the parent row and the
// chain-visible stage result.
func (e *ChainExecutor) settleSynthesis(
	ctx context.Context,
	stage config.StageConfig,
	parent *models.StageExecution,
	result *models.ParallelStageResult,
	synRow *models.StageExecution,
	synResult models.AgentExecutionResult,
) stageOutcome {
	result.Synthesis = &synResult

	if synResult.Status == models.StageStatusCompleted {
		status := models.StageStatusCompleted
		if anyNonSuccess(result.Results) {
			status = models.StageStatusPartial
		}
		e.finalizeParent(ctx, parent, status, nil, result)
		return stageOutcome{
			stageName:  stage.Name,
			status:     status,
			output:     &models.StageOutput{Parallel: result},
			isParallel: true,
			children:   result.Results,
		}
	}

	// The fan-out succeeded but its synthesis did not: the stage, and with
	// it the session, takes the synthesis outcome.
	var synErr error
	if synResult.ErrorMessage != nil {
		synErr = errors.New(*synResult.ErrorMessage)
	}
	e.finalizeParent(ctx, parent, synResult.Status, synErr, result)
	return stageOutcome{
		stageName:  synRow.StageName,
		agentLabel: synRow.Agent,
		status:     synResult.Status,
		err:        synErr,
	}
}

// synthesisContext renders every child investigation, successful or not,
// into the synthesis prompt's context block. Interaction history enriches
// each agent's section; when it cannot be loaded the statuses still stand.
func (e *ChainExecutor) synthesisContext(
	ctx context.Context,
	sessionID string,
	stageName string,
	childRows []*models.StageExecution,
	resolvedConfigs []*agent.ResolvedAgentConfig,
	children []models.AgentExecutionResult,
) string {
	llm, err := e.store.GetLLMInteractions(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load LLM interactions for synthesis", "session_id", sessionID, "error", err)
	}
	mcp, err := e.store.GetMCPInteractions(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load MCP interactions for synthesis", "session_id", sessionID, "error", err)
	}

	llmByExec := groupLLMByExecution(llm)
	mcpByExec := groupMCPByExecution(mcp)

	investigations := make([]stagectx.AgentInvestigation, len(children))
	for i, child := range children {
		inv := stagectx.AgentInvestigation{
			AgentName:  child.AgentName,
			AgentIndex: i + 1,
			Status:     child.Status,
		}
		if child.ErrorMessage != nil {
			inv.ErrorMessage = *child.ErrorMessage
		}
		if resolvedConfigs[i] != nil {
			inv.IterationStrategy = string(resolvedConfigs[i].IterationStrategy)
			inv.LLMProvider = resolvedConfigs[i].LLMProviderName
		}
		execID := childRows[i].ExecutionID
		inv.Events = stagectx.EventsFromInteractions(
			llmByExec[execID], mcpByExec[execID],
			child.Status == models.StageStatusCompleted,
		)
		investigations[i] = inv
	}
	return stagectx.FormatInvestigationForSynthesis(investigations, stageName)
}

// ────────────────────────────────────────────────────────────
// Fan-out planning & aggregation
// ────────────────────────────────────────────────────────────

// expandChildSpecs lists the agents a parallel stage launches, with the
// display label each child row carries. Replicated stages number their
// copies so the rows stay distinguishable.
func expandChildSpecs(stage config.StageConfig) []childSpec {
	if stage.Shape() == config.StageShapeMultiAgent {
		specs := make([]childSpec, len(stage.Agents))
		for i, entry := range stage.Agents {
			specs[i] = childSpec{display: entry.Name, stageAgent: entry}
		}
		return specs
	}
	n := stage.EffectiveReplicas()
	specs := make([]childSpec, n)
	for i := 0; i < n; i++ {
		specs[i] = childSpec{
			display:    fmt.Sprintf("%s-%d", stage.Agent, i+1),
			stageAgent: config.StageAgentConfig{Name: stage.Agent},
		}
	}
	return specs
}

func parallelTypeOf(stage config.StageConfig) models.ParallelType {
	if stage.Shape() == config.StageShapeReplica {
		return models.ParallelTypeReplica
	}
	return models.ParallelTypeMultiAgent
}

// childMetadata builds the per-agent entries of the aggregation record.
func childMetadata(resolvedConfigs []*agent.ResolvedAgentConfig, attempts []agentAttempt) []models.AgentExecutionMetadata {
	agents := make([]models.AgentExecutionMetadata, len(attempts))
	for i := range attempts {
		meta := models.AgentExecutionMetadata{
			AgentName:  attempts[i].result.AgentName,
			Status:     attempts[i].result.Status,
			Error:      attempts[i].result.ErrorMessage,
			TokenUsage: attempts[i].tokens,
		}
		if resolvedConfigs[i] != nil {
			meta.LLMProvider = resolvedConfigs[i].LLMProviderName
			meta.IterationStrategy = string(resolvedConfigs[i].IterationStrategy)
		}
		agents[i] = meta
	}
	return agents
}

// aggregateStatus folds child statuses under the success policy. Any paused
// child parks the whole stage; otherwise cancelled, failed, and timed-out
// children all count against the policy the same way.
func aggregateStatus(children []models.AgentExecutionResult, policy config.SuccessPolicy) models.StageStatus {
	completed := 0
	for _, c := range children {
		switch c.Status {
		case models.StageStatusPaused:
			return models.StageStatusPaused
		case models.StageStatusCompleted:
			completed++
		}
	}
	if policy == config.SuccessPolicyAny {
		if completed > 0 {
			return models.StageStatusCompleted
		}
		return models.StageStatusFailed
	}
	if completed == len(children) {
		return models.StageStatusCompleted
	}
	return models.StageStatusFailed
}

// anyNonSuccess reports whether at least one child missed completion.
func anyNonSuccess(children []models.AgentExecutionResult) bool {
	for _, c := range children {
		if c.Status != models.StageStatusCompleted {
			return true
		}
	}
	return false
}
