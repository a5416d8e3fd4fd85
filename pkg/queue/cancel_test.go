package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/ent/alertsession"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/events"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

const (
	parentExecID  = "exec-parent"
	pausedChildID = "exec-child-a"
)

// newParallelPauseFixture builds a session paused on a parallel stage: a
// parent row carrying the aggregation record, one paused child, and the
// given extra siblings.
func newParallelPauseFixture(t *testing.T, policy config.SuccessPolicy, siblings ...*models.StageExecution) (*Manager, *fakeStore, *fakeEventSink) {
	t.Helper()
	store := newFakeStore()

	session := pendingSession("s1", "chain-a")
	session.Status = alertsession.StatusPaused
	store.sessions["s1"] = session

	agents := []models.AgentExecutionMetadata{
		{AgentName: "AgentA", Status: models.StageStatusPaused, LLMProvider: "google-default", IterationStrategy: "react"},
	}
	for _, sib := range siblings {
		agents = append(agents, models.AgentExecutionMetadata{
			AgentName: sib.Agent, Status: sib.Status, LLMProvider: "openai-default",
		})
	}
	record, err := models.StageOutput{Parallel: &models.ParallelStageResult{
		StageName: "fanout",
		Status:    models.StageStatusPaused,
		Metadata: models.ParallelStageMetadata{
			ParentStageExecutionID: parentExecID,
			ParallelType:           models.ParallelTypeMultiAgent,
			SuccessPolicy:          string(policy),
			StartedAtUS:            1_000_000,
			Agents:                 agents,
		},
	}}.AsMap()
	require.NoError(t, err)

	startedAt := int64(1_000_000)
	store.rows[parentExecID] = &models.StageExecution{
		ExecutionID: parentExecID,
		SessionID:   "s1",
		StageName:   "fanout",
		StageIndex:  0,
		Status:      models.StageStatusPaused,
		StartedAtUS: &startedAt,
		StageOutput: record,
	}

	parentID := parentExecID
	childStart := int64(1_100_000)
	pausedAt := int64(5_100_000)
	store.rows[pausedChildID] = &models.StageExecution{
		ExecutionID:            pausedChildID,
		SessionID:              "s1",
		ParentStageExecutionID: &parentID,
		StageName:              "fanout",
		StageIndex:             0,
		Agent:                  "AgentA",
		Status:                 models.StageStatusPaused,
		StartedAtUS:            &childStart,
		PausedAtUS:             &pausedAt,
	}
	store.childIDs[parentExecID] = []string{pausedChildID}
	for _, sib := range siblings {
		sib.SessionID = "s1"
		sib.ParentStageExecutionID = &parentID
		sib.StageName = "fanout"
		sib.StageIndex = 0
		store.rows[sib.ExecutionID] = sib
		store.childIDs[parentExecID] = append(store.childIDs[parentExecID], sib.ExecutionID)
	}

	sink := &fakeEventSink{}
	return newTestManagerWithSink(testSettings(), store, NewStubExecutor(), sink), store, sink
}

func completedSibling(execID, agent, summary string) *models.StageExecution {
	out, _ := models.StageOutput{Agent: &models.AgentExecutionResult{
		Status:        models.StageStatusCompleted,
		AgentName:     agent,
		ResultSummary: summary,
	}}.AsMap()
	completedAt := int64(4_000_000)
	return &models.StageExecution{
		ExecutionID:   execID,
		Agent:         agent,
		Status:        models.StageStatusCompleted,
		CompletedAtUS: &completedAt,
		StageOutput:   out,
	}
}

func failedSibling(execID, agent, msg string) *models.StageExecution {
	completedAt := int64(4_000_000)
	return &models.StageExecution{
		ExecutionID:   execID,
		Agent:         agent,
		Status:        models.StageStatusFailed,
		ErrorMessage:  &msg,
		CompletedAtUS: &completedAt,
	}
}

func TestCancelAgentGuards(t *testing.T) {
	t.Run("history unavailable", func(t *testing.T) {
		store := newFakeStore()
		store.inactive = true
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.ErrorIs(t, m.CancelAgent(context.Background(), "s1", "exec-1"), ErrHistoryUnavailable)
	})

	t.Run("terminal session", func(t *testing.T) {
		store := newFakeStore()
		session := pendingSession("s1", "chain-a")
		session.Status = alertsession.StatusCompleted
		store.sessions["s1"] = session
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.ErrorIs(t, m.CancelAgent(context.Background(), "s1", "exec-1"), ErrSessionFinished)
	})

	t.Run("session not paused", func(t *testing.T) {
		store := newFakeStore()
		session := pendingSession("s1", "chain-a")
		session.Status = alertsession.StatusInProgress
		store.sessions["s1"] = session
		m := newTestManager(testSettings(), store, NewStubExecutor())

		require.ErrorIs(t, m.CancelAgent(context.Background(), "s1", "exec-1"), ErrSessionNotPaused)
	})

	t.Run("execution from another session", func(t *testing.T) {
		m, store, _ := newParallelPauseFixture(t, config.SuccessPolicyAll)
		store.rows[pausedChildID].SessionID = "s2"

		require.ErrorContains(t, m.CancelAgent(context.Background(), "s1", pausedChildID),
			"does not belong to session")
	})

	t.Run("execution outside a parallel stage", func(t *testing.T) {
		m, store, _ := newParallelPauseFixture(t, config.SuccessPolicyAll)
		store.rows[pausedChildID].ParentStageExecutionID = nil

		require.ErrorContains(t, m.CancelAgent(context.Background(), "s1", pausedChildID),
			"is not part of a parallel stage")
	})

	t.Run("agent not paused", func(t *testing.T) {
		m, store, _ := newParallelPauseFixture(t, config.SuccessPolicyAll)
		store.rows[pausedChildID].Status = models.StageStatusActive

		require.ErrorIs(t, m.CancelAgent(context.Background(), "s1", pausedChildID), ErrAgentNotPaused)
	})
}

func TestCancelAgentFinalizesChild(t *testing.T) {
	other := &models.StageExecution{
		ExecutionID: "exec-child-b",
		Agent:       "AgentB",
		Status:      models.StageStatusPaused,
	}
	m, store, _ := newParallelPauseFixture(t, config.SuccessPolicyAll, other)

	require.NoError(t, m.CancelAgent(context.Background(), "s1", pausedChildID))

	child := store.rows[pausedChildID]
	assert.Equal(t, models.StageStatusCancelled, child.Status)
	require.NotNil(t, child.ErrorMessage)
	assert.Equal(t, "Cancelled by user", *child.ErrorMessage)
	// The terminal stamp inherits the pause stamp so the recorded duration
	// covers only the time the agent ran.
	require.NotNil(t, child.CompletedAtUS)
	assert.Equal(t, int64(5_100_000), *child.CompletedAtUS)
	require.NotNil(t, child.DurationMS)
	assert.Equal(t, models.DurationMSFrom(1_100_000, 5_100_000), *child.DurationMS)
}

func TestCancelAgentKeepsStagePausedWhileSiblingsWait(t *testing.T) {
	other := &models.StageExecution{
		ExecutionID: "exec-child-b",
		Agent:       "AgentB",
		Status:      models.StageStatusPaused,
	}
	m, store, sink := newParallelPauseFixture(t, config.SuccessPolicyAll, other)

	require.NoError(t, m.CancelAgent(context.Background(), "s1", pausedChildID))

	assert.Empty(t, store.updates())
	assert.Equal(t, models.StageStatusPaused, store.rows[parentExecID].Status)
	assert.Equal(t, 0, len(m.queue))

	published := sink.lifecycleEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventTypeAgentCancelled, published[0].eventType)
	assert.Equal(t, "s1", published[0].sessionID)
	assert.Equal(t, "Agent 'AgentA' cancelled by user", published[0].reason)
}

func TestCancelAgentCompletesStageAndResumesChain(t *testing.T) {
	sibling := completedSibling("exec-child-b", "AgentB", "memory pressure on node-3")
	m, store, sink := newParallelPauseFixture(t, config.SuccessPolicyAny, sibling)

	require.NoError(t, m.CancelAgent(context.Background(), "s1", pausedChildID))

	parent := store.rows[parentExecID]
	assert.Equal(t, models.StageStatusCompleted, parent.Status)
	require.NotNil(t, parent.CompletedAtUS)

	out, err := models.StageOutputFromMap(parent.StageOutput)
	require.NoError(t, err)
	require.NotNil(t, out.Parallel)
	assert.Equal(t, models.StageStatusCompleted, out.Parallel.Status)
	require.Len(t, out.Parallel.Results, 2)
	assert.Equal(t, "memory pressure on node-3", out.Parallel.Results[1].ResultSummary)
	// Provider telemetry carries over from the paused record by agent label.
	require.Len(t, out.Parallel.Metadata.Agents, 2)
	assert.Equal(t, "google-default", out.Parallel.Metadata.Agents[0].LLMProvider)
	assert.Equal(t, models.StageStatusCancelled, out.Parallel.Metadata.Agents[0].Status)

	last, ok := store.lastUpdate()
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusInProgress, last.status)
	assert.Equal(t, 1, len(m.queue))

	// The cancellation is announced before the resume.
	assert.Equal(t, []string{events.EventTypeAgentCancelled, events.EventTypeSessionResumed},
		sink.lifecycleTypes())
}

func TestCancelAgentAllCancelledFinishesSessionCancelled(t *testing.T) {
	sibling := completedSibling("exec-child-b", "AgentB", "nothing abnormal")
	m, store, sink := newParallelPauseFixture(t, config.SuccessPolicyAll, sibling)

	require.NoError(t, m.CancelAgent(context.Background(), "s1", pausedChildID))

	assert.Equal(t, models.StageStatusFailed, store.rows[parentExecID].Status)

	last, ok := store.lastUpdate()
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusCancelled, last.status)
	require.NotNil(t, last.errMsg)
	assert.Equal(t, "Parallel stage 'fanout' failed: 1 agents: AgentA (cancelled): Cancelled by user", *last.errMsg)
	assert.Equal(t, 0, len(m.queue))
	assert.Equal(t, []string{events.EventTypeAgentCancelled, events.EventTypeSessionCancelled},
		sink.lifecycleTypes())
}

func TestCancelAgentRealFailureFinishesSessionFailed(t *testing.T) {
	sibling := failedSibling("exec-child-b", "AgentB", "tool budget exhausted")
	m, store, sink := newParallelPauseFixture(t, config.SuccessPolicyAll, sibling)

	require.NoError(t, m.CancelAgent(context.Background(), "s1", pausedChildID))

	last, ok := store.lastUpdate()
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusFailed, last.status)
	require.NotNil(t, last.errMsg)
	assert.Contains(t, *last.errMsg, "AgentA (cancelled): Cancelled by user")
	assert.Contains(t, *last.errMsg, "AgentB (failed): tool budget exhausted")
	assert.Equal(t, []string{events.EventTypeAgentCancelled, events.EventTypeSessionFailed},
		sink.lifecycleTypes())
}

func TestChildResultsFromRows(t *testing.T) {
	completedAt := int64(4_000_000)
	pausedAt := int64(3_000_000)
	errMsg := "boom"
	out, err := models.StageOutput{Agent: &models.AgentExecutionResult{
		Status:        models.StageStatusCompleted,
		AgentName:     "AgentA",
		ResultSummary: "all clear",
	}}.AsMap()
	require.NoError(t, err)

	rows := []models.StageExecution{
		{Agent: "AgentA", StageName: "fanout", Status: models.StageStatusCompleted, CompletedAtUS: &completedAt, StageOutput: out},
		{Agent: "AgentB", StageName: "fanout", Status: models.StageStatusPaused, PausedAtUS: &pausedAt},
		{Agent: "AgentC", StageName: "fanout", Status: models.StageStatusFailed, ErrorMessage: &errMsg},
	}

	results := childResultsFromRows(rows)
	require.Len(t, results, 3)
	assert.Equal(t, "all clear", results[0].ResultSummary)
	assert.Equal(t, completedAt, results[0].TimestampUS)
	assert.Equal(t, pausedAt, results[1].TimestampUS)
	assert.Empty(t, results[1].ResultSummary)
	require.NotNil(t, results[2].ErrorMessage)
	assert.Equal(t, "boom", *results[2].ErrorMessage)
}

func TestRebuildParallelOutput(t *testing.T) {
	tokens := &models.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	prior := &models.ParallelStageResult{
		StageName: "fanout",
		Metadata: models.ParallelStageMetadata{
			SuccessPolicy: "all",
			Agents: []models.AgentExecutionMetadata{
				{AgentName: "worker-1", Status: models.StageStatusPaused, LLMProvider: "google-default", TokenUsage: tokens},
				{AgentName: "worker-2", Status: models.StageStatusPaused, LLMProvider: "openai-default"},
			},
		},
	}
	siblings := []models.StageExecution{
		{Agent: "worker-1", Status: models.StageStatusCancelled},
		{Agent: "worker-2", Status: models.StageStatusCompleted},
	}
	results := childResultsFromRows(siblings)

	rebuilt := rebuildParallelOutput(prior, results, siblings)

	require.Len(t, rebuilt.Metadata.Agents, 2)
	assert.Equal(t, models.StageStatusCancelled, rebuilt.Metadata.Agents[0].Status)
	assert.Equal(t, "google-default", rebuilt.Metadata.Agents[0].LLMProvider)
	assert.Equal(t, tokens, rebuilt.Metadata.Agents[0].TokenUsage)
	assert.Equal(t, "openai-default", rebuilt.Metadata.Agents[1].LLMProvider)
	assert.Equal(t, results, rebuilt.Results)
	// The prior record is not mutated.
	assert.Equal(t, models.StageStatusPaused, prior.Metadata.Agents[0].Status)
}
