package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

func strPtr(s string) *string { return &s }

func childResult(agentName string, status models.StageStatus, errMsg *string) models.AgentExecutionResult {
	return models.AgentExecutionResult{AgentName: agentName, Status: status, ErrorMessage: errMsg}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.StageStatus
		policy   config.SuccessPolicy
		want     models.StageStatus
	}{
		{
			name:     "all completed under all",
			statuses: []models.StageStatus{models.StageStatusCompleted, models.StageStatusCompleted},
			policy:   config.SuccessPolicyAll,
			want:     models.StageStatusCompleted,
		},
		{
			name:     "one failure sinks all",
			statuses: []models.StageStatus{models.StageStatusCompleted, models.StageStatusFailed},
			policy:   config.SuccessPolicyAll,
			want:     models.StageStatusFailed,
		},
		{
			name:     "one success satisfies any",
			statuses: []models.StageStatus{models.StageStatusFailed, models.StageStatusCompleted, models.StageStatusCancelled},
			policy:   config.SuccessPolicyAny,
			want:     models.StageStatusCompleted,
		},
		{
			name:     "no success fails any",
			statuses: []models.StageStatus{models.StageStatusFailed, models.StageStatusTimedOut},
			policy:   config.SuccessPolicyAny,
			want:     models.StageStatusFailed,
		},
		{
			name:     "paused child parks the stage",
			statuses: []models.StageStatus{models.StageStatusCompleted, models.StageStatusPaused},
			policy:   config.SuccessPolicyAny,
			want:     models.StageStatusPaused,
		},
		{
			name:     "cancelled counts against all",
			statuses: []models.StageStatus{models.StageStatusCompleted, models.StageStatusCancelled},
			policy:   config.SuccessPolicyAll,
			want:     models.StageStatusFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			children := make([]models.AgentExecutionResult, len(tt.statuses))
			for i, s := range tt.statuses {
				children[i] = childResult(fmt.Sprintf("agent-%d", i), s, nil)
			}
			assert.Equal(t, tt.want, aggregateStatus(children, tt.policy))
		})
	}
}

func TestAnyNonSuccess(t *testing.T) {
	assert.False(t, anyNonSuccess([]models.AgentExecutionResult{
		childResult("a", models.StageStatusCompleted, nil),
	}))
	assert.True(t, anyNonSuccess([]models.AgentExecutionResult{
		childResult("a", models.StageStatusCompleted, nil),
		childResult("b", models.StageStatusCancelled, nil),
	}))
	assert.False(t, anyNonSuccess(nil))
}

func TestAllNonSuccessCancelled(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.StageStatus
		want     bool
	}{
		{"only cancellations", []models.StageStatus{models.StageStatusCancelled, models.StageStatusCancelled}, true},
		{"cancellation beside success", []models.StageStatus{models.StageStatusCompleted, models.StageStatusCancelled}, true},
		{"real failure present", []models.StageStatus{models.StageStatusCancelled, models.StageStatusFailed}, false},
		{"timeout present", []models.StageStatus{models.StageStatusCancelled, models.StageStatusTimedOut}, false},
		{"all completed", []models.StageStatus{models.StageStatusCompleted}, false},
		{"no children", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			children := make([]models.AgentExecutionResult, len(tt.statuses))
			for i, s := range tt.statuses {
				children[i] = childResult(fmt.Sprintf("agent-%d", i), s, nil)
			}
			assert.Equal(t, tt.want, allNonSuccessCancelled(children))
		})
	}
}

func TestSessionStatusFor(t *testing.T) {
	t.Run("single stage carries its status", func(t *testing.T) {
		assert.Equal(t, models.SessionStatusTimedOut,
			sessionStatusFor(stageOutcome{status: models.StageStatusTimedOut}))
		assert.Equal(t, models.SessionStatusCancelled,
			sessionStatusFor(stageOutcome{status: models.StageStatusCancelled}))
		assert.Equal(t, models.SessionStatusFailed,
			sessionStatusFor(stageOutcome{status: models.StageStatusFailed}))
	})

	t.Run("parallel stage sunk by cancellations only", func(t *testing.T) {
		out := stageOutcome{
			status:     models.StageStatusFailed,
			isParallel: true,
			children: []models.AgentExecutionResult{
				childResult("a", models.StageStatusCompleted, nil),
				childResult("b", models.StageStatusCancelled, nil),
			},
		}
		assert.Equal(t, models.SessionStatusCancelled, sessionStatusFor(out))
	})

	t.Run("parallel stage with a real failure", func(t *testing.T) {
		out := stageOutcome{
			status:     models.StageStatusFailed,
			isParallel: true,
			children: []models.AgentExecutionResult{
				childResult("a", models.StageStatusCancelled, nil),
				childResult("b", models.StageStatusFailed, nil),
			},
		}
		assert.Equal(t, models.SessionStatusFailed, sessionStatusFor(out))
	})

	t.Run("unexpected status maps to failed", func(t *testing.T) {
		assert.Equal(t, models.SessionStatusFailed,
			sessionStatusFor(stageOutcome{status: models.StageStatusActive}))
	})
}

func TestComposeChainError(t *testing.T) {
	t.Run("no detailed failures", func(t *testing.T) {
		assert.Equal(t,
			"Chain processing failed: One or more stages failed without detailed error messages",
			composeChainError(nil))
	})

	t.Run("single stage failure", func(t *testing.T) {
		out := stageOutcome{stageName: "triage", agentLabel: "KubernetesAgent", err: errors.New("llm call failed")}
		assert.Equal(t,
			"Chain processing failed at stage 'triage' (KubernetesAgent): llm call failed",
			composeChainError([]stageOutcome{out}))
	})

	t.Run("single stage failure without message", func(t *testing.T) {
		out := stageOutcome{stageName: "triage", agentLabel: "KubernetesAgent"}
		assert.Equal(t,
			"Chain processing failed at stage 'triage' (KubernetesAgent): Failed with no error message",
			composeChainError([]stageOutcome{out}))
	})

	t.Run("single parallel failure stands alone", func(t *testing.T) {
		out := stageOutcome{
			stageName:  "fanout",
			isParallel: true,
			children: []models.AgentExecutionResult{
				childResult("AgentA", models.StageStatusFailed, strPtr("boom")),
			},
		}
		assert.Equal(t,
			"Parallel stage 'fanout' failed: 1 agents: AgentA (failed): boom",
			composeChainError([]stageOutcome{out}))
	})

	t.Run("multiple failures are joined", func(t *testing.T) {
		outs := []stageOutcome{
			{stageName: "triage", agentLabel: "AgentA", err: errors.New("first")},
			{stageName: "analysis", agentLabel: "AgentB", err: errors.New("second")},
		}
		assert.Equal(t,
			"Chain processing failed (2 stage failures): stage 'triage' (AgentA): first; stage 'analysis' (AgentB): second",
			composeChainError(outs))
	})
}

func TestParallelFailureMessage(t *testing.T) {
	children := []models.AgentExecutionResult{
		childResult("AgentA", models.StageStatusCompleted, nil),
		childResult("AgentB", models.StageStatusFailed, strPtr("tool budget exhausted")),
		childResult("AgentC", models.StageStatusCancelled, nil),
		childResult("AgentD", models.StageStatusTimedOut, strPtr("deadline exceeded")),
	}
	assert.Equal(t,
		"Parallel stage 'fanout' failed: 3 agents: "+
			"AgentB (failed): tool budget exhausted; "+
			"AgentC (cancelled): no error message; "+
			"AgentD (failed): deadline exceeded",
		parallelFailureMessage("fanout", children))
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "Failed with no error message", failureText(nil))
	assert.Equal(t, "Failed with no error message", failureText(errors.New("")))
	assert.Equal(t, "boom", failureText(errors.New("boom")))
}

func TestExtractFinalAnalysis(t *testing.T) {
	agentOutput := func(summary string) models.StageOutput {
		return models.StageOutput{Agent: &models.AgentExecutionResult{
			Status:        models.StageStatusCompleted,
			ResultSummary: summary,
		}}
	}

	t.Run("most recent agent summary wins", func(t *testing.T) {
		outputs := []models.StageOutputEntry{
			{Key: "triage", Output: agentOutput("early findings")},
			{Key: "analysis", Output: agentOutput("final findings")},
		}
		assert.Equal(t, "final findings", extractFinalAnalysis(outputs))
	})

	t.Run("synthesis summary of a parallel stage", func(t *testing.T) {
		outputs := []models.StageOutputEntry{
			{Key: "fanout", Output: models.StageOutput{Parallel: &models.ParallelStageResult{
				Status: models.StageStatusCompleted,
				Synthesis: &models.AgentExecutionResult{
					Status:        models.StageStatusCompleted,
					ResultSummary: "combined view",
				},
			}}},
		}
		assert.Equal(t, "combined view", extractFinalAnalysis(outputs))
	})

	t.Run("parallel stage without synthesis contributes nothing", func(t *testing.T) {
		outputs := []models.StageOutputEntry{
			{Key: "triage", Output: agentOutput("early findings")},
			{Key: "fanout", Output: models.StageOutput{Parallel: &models.ParallelStageResult{
				Status: models.StageStatusCompleted,
			}}},
		}
		assert.Equal(t, "early findings", extractFinalAnalysis(outputs))
	})

	t.Run("empty chain", func(t *testing.T) {
		assert.Empty(t, extractFinalAnalysis(nil))
	})
}

func TestStageStatusFromExecution(t *testing.T) {
	tests := map[agent.ExecutionStatus]models.StageStatus{
		agent.ExecutionStatusCompleted: models.StageStatusCompleted,
		agent.ExecutionStatusPaused:    models.StageStatusPaused,
		agent.ExecutionStatusTimedOut:  models.StageStatusTimedOut,
		agent.ExecutionStatusCancelled: models.StageStatusCancelled,
		agent.ExecutionStatusFailed:    models.StageStatusFailed,
		agent.ExecutionStatusActive:    models.StageStatusFailed,
		agent.ExecutionStatusPending:   models.StageStatusFailed,
	}
	for in, want := range tests {
		assert.Equal(t, want, stageStatusFromExecution(in), "status %s", in)
	}
}

func TestAlertDataText(t *testing.T) {
	assert.Equal(t, "{}", alertDataText(nil))
	assert.Equal(t, "{}", alertDataText(map[string]any{}))

	rendered := alertDataText(map[string]any{"severity": "high", "namespace": "prod"})
	assert.Contains(t, rendered, `"severity": "high"`)
	assert.Contains(t, rendered, `"namespace": "prod"`)
}

func TestResolveToolSelection(t *testing.T) {
	registry, err := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"kubernetes-server": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "kubectl-mcp"}},
		"observability":     {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "obs-mcp"}},
	}, nil)
	require.NoError(t, err)
	resolved := &agent.ResolvedAgentConfig{MCPServers: []string{"kubernetes-server"}}

	t.Run("no selection uses resolved servers", func(t *testing.T) {
		servers, filter, err := resolveToolSelection(nil, resolved, registry)
		require.NoError(t, err)
		assert.Equal(t, []string{"kubernetes-server"}, servers)
		assert.Nil(t, filter)
	})

	t.Run("empty selection rejected", func(t *testing.T) {
		_, _, err := resolveToolSelection(&models.MCPSelectionConfig{}, resolved, registry)
		require.ErrorContains(t, err, "mcp selection has no servers")
	})

	t.Run("unknown server rejected", func(t *testing.T) {
		sel := &models.MCPSelectionConfig{Servers: []models.MCPServerSelection{{Name: "nope"}}}
		_, _, err := resolveToolSelection(sel, resolved, registry)
		require.ErrorContains(t, err, `mcp server "nope" not found`)
	})

	t.Run("selection replaces resolved servers with tool narrowing", func(t *testing.T) {
		sel := &models.MCPSelectionConfig{Servers: []models.MCPServerSelection{
			{Name: "kubernetes-server", Tools: []string{"get_pods", "get_events"}},
			{Name: "observability"},
		}}
		servers, filter, err := resolveToolSelection(sel, resolved, registry)
		require.NoError(t, err)
		assert.Equal(t, []string{"kubernetes-server", "observability"}, servers)
		assert.Equal(t, map[string][]string{"kubernetes-server": {"get_pods", "get_events"}}, filter)
	})

	t.Run("selection without tool narrowing has no filter", func(t *testing.T) {
		sel := &models.MCPSelectionConfig{Servers: []models.MCPServerSelection{{Name: "observability"}}}
		servers, filter, err := resolveToolSelection(sel, resolved, registry)
		require.NoError(t, err)
		assert.Equal(t, []string{"observability"}, servers)
		assert.Nil(t, filter)
	})
}

func TestExpandChildSpecs(t *testing.T) {
	t.Run("multi-agent stage lists each entry", func(t *testing.T) {
		stage := config.StageConfig{
			Name: "fanout",
			Agents: []config.StageAgentConfig{
				{Name: "KubernetesAgent"},
				{Name: "NetworkAgent", LLMProvider: "openai-default"},
			},
		}
		specs := expandChildSpecs(stage)
		require.Len(t, specs, 2)
		assert.Equal(t, "KubernetesAgent", specs[0].display)
		assert.Equal(t, "NetworkAgent", specs[1].display)
		assert.Equal(t, "openai-default", specs[1].stageAgent.LLMProvider)
	})

	t.Run("replica stage numbers its copies", func(t *testing.T) {
		stage := config.StageConfig{Name: "fanout", Agent: "Analyzer", Replicas: 3}
		specs := expandChildSpecs(stage)
		require.Len(t, specs, 3)
		assert.Equal(t, "Analyzer-1", specs[0].display)
		assert.Equal(t, "Analyzer-3", specs[2].display)
		assert.Equal(t, "Analyzer", specs[1].stageAgent.Name)
	})
}

func TestParallelTypeOf(t *testing.T) {
	assert.Equal(t, models.ParallelTypeReplica,
		parallelTypeOf(config.StageConfig{Agent: "Analyzer", Replicas: 2}))
	assert.Equal(t, models.ParallelTypeMultiAgent,
		parallelTypeOf(config.StageConfig{Agents: []config.StageAgentConfig{{Name: "A"}, {Name: "B"}}}))
}

func TestBuildChainContext(t *testing.T) {
	session := pendingSession("s1", "chain-a")
	session.AlertData = map[string]any{
		"runbook":   "https://runbooks.example.com/oom.md",
		"severity":  "critical",
		"namespace": "prod",
	}
	session.McpSelection = map[string]any{
		"servers": []any{map[string]any{"name": "kubernetes-server"}},
	}

	chainCtx, err := buildChainContext(session)
	require.NoError(t, err)

	assert.Equal(t, "s1", chainCtx.SessionID)
	assert.Equal(t, "kubernetes", chainCtx.ProcessingAlert.AlertType)
	assert.Equal(t, "https://runbooks.example.com/oom.md", chainCtx.ProcessingAlert.Runbook)
	assert.Equal(t, "critical", chainCtx.ProcessingAlert.Severity)
	require.NotNil(t, chainCtx.MCP)
	assert.Equal(t, []string{"kubernetes-server"}, chainCtx.MCP.ServerNames())
	assert.Nil(t, chainCtx.ChatContext)
}

func TestContinuationPoint(t *testing.T) {
	stageID := "exec-1"
	index := 1
	sessionWithMarkers := func() *ent.AlertSession {
		s := pendingSession("s1", "chain-a")
		s.CurrentStageIndex = &index
		s.CurrentStageID = &stageID
		return s
	}

	t.Run("fresh session starts at zero", func(t *testing.T) {
		e := &ChainExecutor{store: newFakeStore()}
		resume, err := e.continuationPoint(context.Background(), pendingSession("s1", "chain-a"))
		require.NoError(t, err)
		assert.Equal(t, resumePoint{}, resume)
	})

	t.Run("completed stage advances past itself", func(t *testing.T) {
		store := newFakeStore()
		store.rows[stageID] = &models.StageExecution{
			ExecutionID: stageID, StageIndex: 1, Status: models.StageStatusCompleted,
		}
		e := &ChainExecutor{store: store}
		resume, err := e.continuationPoint(context.Background(), sessionWithMarkers())
		require.NoError(t, err)
		assert.Equal(t, 2, resume.startIndex)
		assert.Nil(t, resume.pausedRow)
	})

	t.Run("paused stage re-runs in place", func(t *testing.T) {
		store := newFakeStore()
		store.rows[stageID] = &models.StageExecution{
			ExecutionID: stageID, StageIndex: 1, Status: models.StageStatusPaused,
		}
		e := &ChainExecutor{store: store}
		resume, err := e.continuationPoint(context.Background(), sessionWithMarkers())
		require.NoError(t, err)
		assert.Equal(t, 1, resume.startIndex)
		require.NotNil(t, resume.pausedRow)
		assert.Equal(t, stageID, resume.pausedRow.ExecutionID)
	})

	t.Run("failed stage re-runs without chat context", func(t *testing.T) {
		store := newFakeStore()
		store.rows[stageID] = &models.StageExecution{
			ExecutionID: stageID, StageIndex: 1, Status: models.StageStatusFailed,
		}
		e := &ChainExecutor{store: store}
		resume, err := e.continuationPoint(context.Background(), sessionWithMarkers())
		require.NoError(t, err)
		assert.Equal(t, 1, resume.startIndex)
		assert.Nil(t, resume.pausedRow)
	})

	t.Run("missing row propagates", func(t *testing.T) {
		e := &ChainExecutor{store: newFakeStore()}
		_, err := e.continuationPoint(context.Background(), sessionWithMarkers())
		require.ErrorContains(t, err, "failed to load current stage execution")
	})
}

func TestRebuildStageOutputs(t *testing.T) {
	store := newFakeStore()
	triageOut, err := models.StageOutput{Agent: &models.AgentExecutionResult{
		Status:        models.StageStatusCompleted,
		ResultSummary: "pod restarts traced to OOM",
	}}.AsMap()
	require.NoError(t, err)
	parentID := "exec-parent"
	store.details["s1"] = &models.SessionDetail{
		Stages: []models.StageExecution{
			{ExecutionID: "exec-1", StageName: "triage", StageIndex: 0, StageOutput: triageOut},
			// Child rows never carry chain-visible outputs.
			{ExecutionID: "exec-2", StageName: "triage", StageIndex: 0, ParentStageExecutionID: &parentID, StageOutput: triageOut},
			// A synthesis row shares its parent's index; the first row wins.
			{ExecutionID: "exec-3", StageName: "triage - Synthesis", StageIndex: 0, StageOutput: triageOut},
			// Stages at or past the continuation index are re-run, not replayed.
			{ExecutionID: "exec-4", StageName: "analysis", StageIndex: 1, StageOutput: triageOut},
		},
	}
	e := &ChainExecutor{store: store}

	chainCtx := &models.ChainContext{SessionID: "s1"}
	require.NoError(t, e.rebuildStageOutputs(context.Background(), "s1", 1, chainCtx))

	require.Len(t, chainCtx.StageOutputs, 1)
	assert.Equal(t, "triage", chainCtx.StageOutputs[0].Key)
	require.NotNil(t, chainCtx.StageOutputs[0].Output.Agent)
	assert.Equal(t, "pod restarts traced to OOM", chainCtx.StageOutputs[0].Output.Agent.ResultSummary)
}

func TestChatHistoryOf(t *testing.T) {
	chat := &models.ChatContext{Messages: []models.ChatMessage{
		{Role: models.RoleUser, Content: "what failed?"},
		{Role: models.RoleAssistant, Content: "the ingress controller"},
		{Role: models.RoleUser, Content: "since when?"},
	}}

	history := chatHistoryOf(chat)
	require.Len(t, history, 1)
	assert.Equal(t, "what failed?", history[0].UserQuestion)
	require.Len(t, history[0].Messages, 1)
	assert.Equal(t, "the ingress controller", history[0].Messages[0].Content)
}

func TestExecuteFailsOnUnresolvableChain(t *testing.T) {
	chains, err := config.NewChainRegistry(nil, nil)
	require.NoError(t, err)
	e := &ChainExecutor{
		cfg:   &config.Config{Chains: chains},
		store: newFakeStore(),
	}

	result := e.Execute(context.Background(), pendingSession("s1", "unknown-chain"))
	assert.Equal(t, models.SessionStatusFailed, result.Status)
	assert.ErrorContains(t, result.Error, `failed to resolve chain "unknown-chain"`)
}
