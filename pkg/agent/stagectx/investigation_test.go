package stagectx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// ────────────────────────────────────────────────────────────
// formatEvents — each event kind produces a known block
// ────────────────────────────────────────────────────────────

func TestFormatEvents(t *testing.T) {
	tests := []struct {
		name     string
		events   []Event
		expected string
	}{
		{
			name:     "nil slice",
			events:   nil,
			expected: "",
		},
		{
			name: "response",
			events: []Event{
				{Type: EventResponse, Content: "The pods are healthy."},
			},
			expected: "**Agent Response:**\n\nThe pods are healthy.\n\n",
		},
		{
			name: "final analysis",
			events: []Event{
				{Type: EventFinalAnalysis, Content: "Root cause: OOM."},
			},
			expected: "**Final Analysis:**\n\nRoot cause: OOM.\n\n",
		},
		{
			name: "unknown event type uses default formatting",
			events: []Event{
				{Type: "stage_error", Content: "Something went wrong."},
			},
			expected: "**stage error:**\n\nSomething went wrong.\n\n",
		},
		{
			name: "tool call without server and tool falls back to content",
			events: []Event{
				{Type: EventToolCall, Content: "k8s.pods_list(ns=default)"},
			},
			expected: "**Tool Call:** k8s.pods_list(ns=default)\n" +
				"**Result:**\n\nk8s.pods_list(ns=default)\n\n",
		},
		{
			name: "tool call without result content",
			events: []Event{
				{Type: EventToolCall, Server: "k8s", Tool: "pods_list", Arguments: `{"namespace":"default"}`},
			},
			// No content → header only, no result block
			expected: "**Tool Call:** k8s.pods_list({\"namespace\":\"default\"})\n",
		},
		{
			name: "tool call with result content",
			events: []Event{
				{
					Type:      EventToolCall,
					Server:    "k8s",
					Tool:      "pods_list",
					Arguments: "ns=default",
					Content:   "pod-1 Running, pod-2 Running",
				},
			},
			expected: "**Tool Call:** k8s.pods_list(ns=default)\n" +
				"**Result:**\n\npod-1 Running, pod-2 Running\n\n",
		},
		{
			name: "tool call with no arguments renders empty parens",
			events: []Event{
				{Type: EventToolCall, Server: "k8s", Tool: "pods_list", Content: "pod-1 Running"},
			},
			expected: "**Tool Call:** k8s.pods_list()\n" +
				"**Result:**\n\npod-1 Running\n\n",
		},
		{
			name: "tool call followed by response",
			events: []Event{
				{Type: EventToolCall, Server: "k8s", Tool: "pods_list", Content: "pod-1 Running"},
				{Type: EventResponse, Content: "Pods look fine."},
			},
			expected: "**Tool Call:** k8s.pods_list()\n" +
				"**Result:**\n\npod-1 Running\n\n" +
				"**Agent Response:**\n\nPods look fine.\n\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var sb strings.Builder
			formatEvents(&sb, tc.events)
			assert.Equal(t, tc.expected, sb.String())
		})
	}
}

// ────────────────────────────────────────────────────────────
// FormatStructuredInvestigation (chat context)
// ────────────────────────────────────────────────────────────

func TestFormatStructuredInvestigation(t *testing.T) {
	t.Run("empty stages and no summary", func(t *testing.T) {
		result := FormatStructuredInvestigation(nil, "")

		assert.Contains(t, result, "📋 INVESTIGATION HISTORY")
		// No stage or summary sections
		assert.NotContains(t, result, "## Stage")
		assert.NotContains(t, result, "## Executive Summary")
	})

	t.Run("single-agent stage uses simplified header", func(t *testing.T) {
		stages := []StageInvestigation{
			{
				StageName:  "data-collection",
				StageIndex: 0,
				Agents: []AgentInvestigation{
					{
						AgentName:         "DataCollector",
						AgentIndex:        1,
						IterationStrategy: "native-thinking",
						Status:            models.StageStatusCompleted,
						Events: []Event{
							{Type: EventFinalAnalysis, Content: "Collected data."},
						},
					},
				},
			},
		}

		result := FormatStructuredInvestigation(stages, "")

		assert.Contains(t, result, "## Stage 1: data-collection")
		assert.Contains(t, result, "**Agent:** DataCollector (native-thinking)")
		assert.Contains(t, result, "**Status**: completed")
		assert.Contains(t, result, "**Final Analysis:**\n\nCollected data.")
		// Single-agent should NOT use the parallel format
		assert.NotContains(t, result, "<!-- PARALLEL_RESULTS_START -->")
		assert.NotContains(t, result, "#### Agent")
		assert.NotContains(t, result, "### Parallel Investigation")
	})

	t.Run("parallel-agent stage uses synthesis format", func(t *testing.T) {
		stages := []StageInvestigation{
			{
				StageName:  "validation",
				StageIndex: 0,
				Agents: []AgentInvestigation{
					{
						AgentName:         "ConfigValidator",
						AgentIndex:        1,
						IterationStrategy: "react",
						LLMProvider:       "gemini-2.5-pro",
						Status:            models.StageStatusCompleted,
						Events: []Event{
							{Type: EventFinalAnalysis, Content: "Config OK."},
						},
					},
					{
						AgentName:         "MetricsValidator",
						AgentIndex:        2,
						IterationStrategy: "react",
						LLMProvider:       "claude-sonnet",
						Status:            models.StageStatusCompleted,
						Events: []Event{
							{Type: EventFinalAnalysis, Content: "Metrics OK."},
						},
					},
				},
			},
		}

		result := FormatStructuredInvestigation(stages, "")

		// Uses the same format as synthesis
		assert.Contains(t, result, "<!-- PARALLEL_RESULTS_START -->")
		assert.Contains(t, result, "<!-- PARALLEL_RESULTS_END -->")
		assert.Contains(t, result, `"validation" — 2/2 agents succeeded`)
		assert.Contains(t, result, "#### Agent 1: ConfigValidator (react, gemini-2.5-pro)")
		assert.Contains(t, result, "#### Agent 2: MetricsValidator (react, claude-sonnet)")
		assert.Contains(t, result, "**Final Analysis:**\n\nConfig OK.")
		assert.Contains(t, result, "**Final Analysis:**\n\nMetrics OK.")
	})

	t.Run("single-agent stage with provider includes provider", func(t *testing.T) {
		stages := []StageInvestigation{
			{
				StageName:  "investigation",
				StageIndex: 0,
				Agents: []AgentInvestigation{
					{
						AgentName:         "DataCollector",
						AgentIndex:        1,
						IterationStrategy: "native-thinking",
						LLMProvider:       "gemini-2.5-pro",
						Status:            models.StageStatusCompleted,
						Events: []Event{
							{Type: EventFinalAnalysis, Content: "Collected data."},
						},
					},
				},
			},
		}

		result := FormatStructuredInvestigation(stages, "")

		assert.Contains(t, result, "**Agent:** DataCollector (native-thinking, gemini-2.5-pro)")
		assert.NotContains(t, result, "<!-- PARALLEL_RESULTS_START -->")
	})

	t.Run("stage with synthesis result", func(t *testing.T) {
		stages := []StageInvestigation{
			{
				StageName:  "validation",
				StageIndex: 0,
				Agents: []AgentInvestigation{
					{
						AgentName:         "Agent",
						AgentIndex:        1,
						IterationStrategy: "react",
						LLMProvider:       "gemini",
						Status:            models.StageStatusCompleted,
					},
				},
				SynthesisResult: "Both agents agree: no issues found.",
			},
		}

		result := FormatStructuredInvestigation(stages, "")

		assert.Contains(t, result, "**Agent:** Agent (react, gemini)")
		assert.Contains(t, result, "### Synthesis Result")
		assert.Contains(t, result, "Both agents agree: no issues found.")
	})

	t.Run("executive summary", func(t *testing.T) {
		result := FormatStructuredInvestigation(nil, "Overall: system is healthy.")

		assert.Contains(t, result, "## Executive Summary")
		assert.Contains(t, result, "Overall: system is healthy.")
	})

	t.Run("multi-stage mixed scenario", func(t *testing.T) {
		stages := []StageInvestigation{
			{
				StageName:  "data-collection",
				StageIndex: 0,
				Agents: []AgentInvestigation{
					{
						AgentName:         "DataCollector",
						AgentIndex:        1,
						IterationStrategy: "native-thinking",
						Status:            models.StageStatusCompleted,
						Events: []Event{
							{Type: EventFinalAnalysis, Content: "Data collected."},
						},
					},
				},
			},
			{
				StageName:  "validation",
				StageIndex: 1,
				Agents: []AgentInvestigation{
					{
						AgentName:         "AgentA",
						AgentIndex:        1,
						IterationStrategy: "react",
						LLMProvider:       "gemini",
						Status:            models.StageStatusCompleted,
						Events: []Event{
							{Type: EventFinalAnalysis, Content: "Valid."},
						},
					},
					{
						AgentName:         "AgentB",
						AgentIndex:        2,
						IterationStrategy: "react",
						LLMProvider:       "gemini",
						Status:            models.StageStatusFailed,
						ErrorMessage:      "timeout",
					},
				},
				SynthesisResult: "Partial success.",
			},
		}

		result := FormatStructuredInvestigation(stages, "Everything analyzed.")

		// Stage 1: single-agent
		assert.Contains(t, result, "## Stage 1: data-collection")
		assert.Contains(t, result, "**Agent:** DataCollector (native-thinking)")

		// Stage 2: parallel with synthesis
		assert.Contains(t, result, "## Stage 2: validation")
		assert.Contains(t, result, `"validation" — 1/2 agents succeeded`)
		assert.Contains(t, result, "#### Agent 2: AgentB (react, gemini)")
		assert.Contains(t, result, "**Error**: timeout")
		assert.Contains(t, result, "(No investigation history available)")
		assert.Contains(t, result, "### Synthesis Result")
		assert.Contains(t, result, "Partial success.")

		// Verify newline between PARALLEL_RESULTS_END and Synthesis heading
		assert.Contains(t, result, "<!-- PARALLEL_RESULTS_END -->\n### Synthesis Result")

		// Executive summary
		assert.Contains(t, result, "## Executive Summary")
		assert.Contains(t, result, "Everything analyzed.")
	})

	t.Run("sequential stage numbering ignores StageIndex", func(t *testing.T) {
		stages := []StageInvestigation{
			{StageName: "first", StageIndex: 0, Agents: []AgentInvestigation{
				{AgentName: "A", AgentIndex: 1, IterationStrategy: "react", Status: models.StageStatusCompleted},
			}},
			{StageName: "third", StageIndex: 5, Agents: []AgentInvestigation{
				{AgentName: "B", AgentIndex: 1, IterationStrategy: "react", Status: models.StageStatusCompleted},
			}},
		}

		result := FormatStructuredInvestigation(stages, "")

		// Sequential numbering: 1, 2 — not 1, 6
		assert.Contains(t, result, "## Stage 1: first")
		assert.Contains(t, result, "## Stage 2: third")
		assert.NotContains(t, result, "## Stage 6")
	})

	t.Run("stage with no agents produces only header", func(t *testing.T) {
		stages := []StageInvestigation{
			{StageName: "empty-stage", StageIndex: 0},
		}

		result := FormatStructuredInvestigation(stages, "")

		assert.Contains(t, result, "## Stage 1: empty-stage")
		assert.NotContains(t, result, "**Agent:")
		assert.NotContains(t, result, "<!-- PARALLEL_RESULTS_START -->")
	})

	t.Run("failed single agent with error shows error and placeholder", func(t *testing.T) {
		stages := []StageInvestigation{
			{
				StageName:  "investigation",
				StageIndex: 0,
				Agents: []AgentInvestigation{
					{
						AgentName:         "Analyzer",
						AgentIndex:        1,
						IterationStrategy: "react",
						Status:            models.StageStatusFailed,
						ErrorMessage:      "LLM provider unreachable",
					},
				},
			},
		}

		result := FormatStructuredInvestigation(stages, "")

		assert.Contains(t, result, "**Agent:** Analyzer (react)")
		assert.Contains(t, result, "**Status**: failed")
		assert.Contains(t, result, "**Error**: LLM provider unreachable")
		assert.Contains(t, result, "(No investigation history available)")
	})

	t.Run("parallel format matches synthesis format exactly", func(t *testing.T) {
		// Same agents used in both formatters should produce identical parallel blocks
		agents := []AgentInvestigation{
			{
				AgentName:         "AgentA",
				AgentIndex:        1,
				IterationStrategy: "react",
				LLMProvider:       "gemini-2.5-pro",
				Status:            models.StageStatusCompleted,
				Events: []Event{
					{Type: EventFinalAnalysis, Content: "Finding A."},
				},
			},
			{
				AgentName:         "AgentB",
				AgentIndex:        2,
				IterationStrategy: "native-thinking",
				LLMProvider:       "claude-sonnet",
				Status:            models.StageStatusCompleted,
				Events: []Event{
					{Type: EventFinalAnalysis, Content: "Finding B."},
				},
			},
		}

		synthesisResult := FormatInvestigationForSynthesis(agents, "investigation")

		stages := []StageInvestigation{
			{StageName: "investigation", StageIndex: 0, Agents: agents},
		}
		chatResult := FormatStructuredInvestigation(stages, "")

		// The parallel block within the chat output should match synthesis exactly
		parallelStart := strings.Index(chatResult, "<!-- PARALLEL_RESULTS_START -->")
		require.Greater(t, parallelStart, 0, "chat result should contain PARALLEL_RESULTS_START")

		endMarker := "<!-- PARALLEL_RESULTS_END -->\n"
		endIdx := strings.Index(chatResult, endMarker)
		require.GreaterOrEqual(t, endIdx, 0, "chat result should contain PARALLEL_RESULTS_END marker")

		parallelEnd := endIdx + len(endMarker)
		require.Greater(t, parallelEnd, parallelStart,
			"PARALLEL_RESULTS_END must come after PARALLEL_RESULTS_START in chatResult")

		chatParallelBlock := chatResult[parallelStart:parallelEnd]
		assert.Equal(t, synthesisResult, chatParallelBlock, "parallel block in chat must match synthesis output exactly")
	})
}

// ────────────────────────────────────────────────────────────
// FormatInvestigationForSynthesis
// ────────────────────────────────────────────────────────────

func TestFormatInvestigationForSynthesis(t *testing.T) {
	t.Run("two agents both completed", func(t *testing.T) {
		agents := []AgentInvestigation{
			{
				AgentName:         "AgentA",
				AgentIndex:        1,
				IterationStrategy: "react",
				LLMProvider:       "gemini-2.5-pro",
				Status:            models.StageStatusCompleted,
				Events: []Event{
					{Type: EventFinalAnalysis, Content: "Finding A."},
				},
			},
			{
				AgentName:         "AgentB",
				AgentIndex:        2,
				IterationStrategy: "native-thinking",
				LLMProvider:       "claude-sonnet",
				Status:            models.StageStatusCompleted,
				Events: []Event{
					{Type: EventFinalAnalysis, Content: "Finding B."},
				},
			},
		}

		result := FormatInvestigationForSynthesis(agents, "investigation")

		assert.True(t, strings.HasPrefix(result, "<!-- PARALLEL_RESULTS_START -->"))
		assert.True(t, strings.HasSuffix(result, "<!-- PARALLEL_RESULTS_END -->\n"))
		assert.Contains(t, result, `"investigation" — 2/2 agents succeeded`)
		assert.Contains(t, result, "#### Agent 1: AgentA (react, gemini-2.5-pro)\n**Status**: completed")
		assert.Contains(t, result, "#### Agent 2: AgentB (native-thinking, claude-sonnet)\n**Status**: completed")
		assert.Contains(t, result, "**Final Analysis:**\n\nFinding A.")
		assert.Contains(t, result, "**Final Analysis:**\n\nFinding B.")
		// No error blocks for completed agents
		assert.NotContains(t, result, "**Error**")
	})

	t.Run("one failed with error", func(t *testing.T) {
		agents := []AgentInvestigation{
			{
				AgentName:         "AgentA",
				AgentIndex:        1,
				IterationStrategy: "react",
				LLMProvider:       "gemini",
				Status:            models.StageStatusCompleted,
				Events: []Event{
					{Type: EventFinalAnalysis, Content: "OK."},
				},
			},
			{
				AgentName:         "AgentB",
				AgentIndex:        2,
				IterationStrategy: "react",
				LLMProvider:       "gemini",
				Status:            models.StageStatusFailed,
				ErrorMessage:      "LLM timeout",
			},
		}

		result := FormatInvestigationForSynthesis(agents, "investigation")

		assert.Contains(t, result, `1/2 agents succeeded`)
		assert.Contains(t, result, "**Status**: failed")
		assert.Contains(t, result, "**Error**: LLM timeout")
		// Failed agent with no events shows placeholder
		assert.Contains(t, result, "(No investigation history available)")
	})

	t.Run("cancelled agent counts as non-success", func(t *testing.T) {
		agents := []AgentInvestigation{
			{
				AgentName:         "AgentA",
				AgentIndex:        1,
				IterationStrategy: "react",
				Status:            models.StageStatusCancelled,
				ErrorMessage:      "Cancelled by user",
			},
		}

		result := FormatInvestigationForSynthesis(agents, "stage-1")

		assert.Contains(t, result, "0/1 agents succeeded")
		assert.Contains(t, result, "**Status**: cancelled")
		assert.Contains(t, result, "**Error**: Cancelled by user")
	})

	t.Run("failed agent without error message", func(t *testing.T) {
		agents := []AgentInvestigation{
			{
				AgentName:         "AgentA",
				AgentIndex:        1,
				IterationStrategy: "react",
				LLMProvider:       "gemini",
				Status:            models.StageStatusFailed,
			},
		}

		result := FormatInvestigationForSynthesis(agents, "stage-1")

		assert.Contains(t, result, "0/1 agents succeeded")
		// No error line when ErrorMessage is empty
		assert.NotContains(t, result, "**Error**")
		assert.Contains(t, result, "(No investigation history available)")
	})

	t.Run("completed agent with no events omits placeholder", func(t *testing.T) {
		agents := []AgentInvestigation{
			{
				AgentName:         "AgentA",
				AgentIndex:        1,
				IterationStrategy: "react",
				LLMProvider:       "gemini",
				Status:            models.StageStatusCompleted,
			},
		}

		result := FormatInvestigationForSynthesis(agents, "stage-1")

		assert.Contains(t, result, "1/1 agents succeeded")
		assert.NotContains(t, result, "(No investigation history available)")
	})

	t.Run("agent with empty provider omits provider from header", func(t *testing.T) {
		agents := []AgentInvestigation{
			{
				AgentName:         "AgentA",
				AgentIndex:        1,
				IterationStrategy: "react",
				Status:            models.StageStatusCompleted,
				Events: []Event{
					{Type: EventFinalAnalysis, Content: "Done."},
				},
			},
		}

		result := FormatInvestigationForSynthesis(agents, "stage-1")

		assert.Contains(t, result, "#### Agent 1: AgentA (react)\n**Status**: completed")
		assert.NotContains(t, result, "AgentA (react, )")
	})
}

// ────────────────────────────────────────────────────────────
// Conversions from recorded results and interactions
// ────────────────────────────────────────────────────────────

func TestAgentsFromParallelResult(t *testing.T) {
	t.Run("pairs results with metadata by launch order", func(t *testing.T) {
		errMsg := "LLM timeout"
		p := &models.ParallelStageResult{
			StageName: "investigation",
			Results: []models.AgentExecutionResult{
				{Status: models.StageStatusCompleted, AgentName: "AgentA", ResultSummary: "Finding A."},
				{Status: models.StageStatusFailed, AgentName: "AgentB", ErrorMessage: &errMsg},
			},
			Metadata: models.ParallelStageMetadata{
				Agents: []models.AgentExecutionMetadata{
					{AgentName: "AgentA", LLMProvider: "gemini-2.5-pro", IterationStrategy: "react"},
					{AgentName: "AgentB", LLMProvider: "claude-sonnet", IterationStrategy: "native-thinking"},
				},
			},
		}

		agents := AgentsFromParallelResult(p)

		require.Len(t, agents, 2)
		assert.Equal(t, "AgentA", agents[0].AgentName)
		assert.Equal(t, 1, agents[0].AgentIndex)
		assert.Equal(t, "react", agents[0].IterationStrategy)
		assert.Equal(t, "gemini-2.5-pro", agents[0].LLMProvider)
		require.Len(t, agents[0].Events, 1)
		assert.Equal(t, EventFinalAnalysis, agents[0].Events[0].Type)
		assert.Equal(t, "Finding A.", agents[0].Events[0].Content)

		assert.Equal(t, 2, agents[1].AgentIndex)
		assert.Equal(t, "LLM timeout", agents[1].ErrorMessage)
		assert.Empty(t, agents[1].Events)
	})

	t.Run("missing metadata entries leave qualifiers empty", func(t *testing.T) {
		p := &models.ParallelStageResult{
			StageName: "investigation",
			Results: []models.AgentExecutionResult{
				{Status: models.StageStatusCompleted, AgentName: "AgentA", ResultSummary: "Done."},
			},
		}

		agents := AgentsFromParallelResult(p)

		require.Len(t, agents, 1)
		assert.Empty(t, agents[0].IterationStrategy)
		assert.Empty(t, agents[0].LLMProvider)
	})
}

func TestEventsFromInteractions(t *testing.T) {
	toolName := "pods_list"

	t.Run("merges llm and mcp by timestamp", func(t *testing.T) {
		llm := []models.LLMInteraction{
			{
				TimestampUS:     1000,
				Success:         true,
				InteractionType: models.InteractionTypeNormal,
				Conversation: []models.ConversationMessage{
					{Role: models.RoleUser, Content: "Investigate."},
					{Role: models.RoleAssistant, Content: "Checking pods."},
				},
			},
			{
				TimestampUS:     3000,
				Success:         true,
				InteractionType: models.InteractionTypeNormal,
				Conversation: []models.ConversationMessage{
					{Role: models.RoleAssistant, Content: "All pods healthy."},
				},
			},
		}
		mcp := []models.MCPInteraction{
			{
				TimestampUS:       2000,
				Success:           true,
				ServerName:        "k8s",
				CommunicationType: models.CommunicationTypeToolCall,
				ToolName:          &toolName,
				ToolArguments:     map[string]any{"namespace": "default"},
				ToolResult:        map[string]any{"content": "pod-1 Running"},
			},
		}

		events := EventsFromInteractions(llm, mcp, false)

		require.Len(t, events, 3)
		assert.Equal(t, EventResponse, events[0].Type)
		assert.Equal(t, "Checking pods.", events[0].Content)
		assert.Equal(t, EventToolCall, events[1].Type)
		assert.Equal(t, "k8s", events[1].Server)
		assert.Equal(t, "pods_list", events[1].Tool)
		assert.Equal(t, `{"namespace":"default"}`, events[1].Arguments)
		assert.Equal(t, "pod-1 Running", events[1].Content)
		assert.Equal(t, EventResponse, events[2].Type)
	})

	t.Run("concluded relabels last response as final analysis", func(t *testing.T) {
		llm := []models.LLMInteraction{
			{
				TimestampUS:     1000,
				Success:         true,
				InteractionType: models.InteractionTypeNormal,
				Conversation: []models.ConversationMessage{
					{Role: models.RoleAssistant, Content: "Checking pods."},
				},
			},
			{
				TimestampUS:     2000,
				Success:         true,
				InteractionType: models.InteractionTypeForcedConclusion,
				Conversation: []models.ConversationMessage{
					{Role: models.RoleAssistant, Content: "Final Answer: all healthy."},
				},
			},
		}

		events := EventsFromInteractions(llm, nil, true)

		require.Len(t, events, 2)
		assert.Equal(t, EventResponse, events[0].Type)
		assert.Equal(t, EventFinalAnalysis, events[1].Type)
	})

	t.Run("skips executive summary and failed calls", func(t *testing.T) {
		llm := []models.LLMInteraction{
			{
				TimestampUS:     1000,
				Success:         true,
				InteractionType: models.InteractionTypeExecutiveSummary,
				Conversation: []models.ConversationMessage{
					{Role: models.RoleAssistant, Content: "Summary for leadership."},
				},
			},
			{
				TimestampUS:     2000,
				Success:         false,
				InteractionType: models.InteractionTypeNormal,
				Conversation: []models.ConversationMessage{
					{Role: models.RoleAssistant, Content: "partial garbage"},
				},
			},
		}

		events := EventsFromInteractions(llm, nil, false)

		assert.Empty(t, events)
	})

	t.Run("skips tool-call turns and tool listings", func(t *testing.T) {
		llm := []models.LLMInteraction{
			{
				TimestampUS:     1000,
				Success:         true,
				InteractionType: models.InteractionTypeNormal,
				Conversation: []models.ConversationMessage{
					{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "1", Name: "k8s.pods_list"}}},
				},
			},
		}
		mcp := []models.MCPInteraction{
			{
				TimestampUS:       500,
				Success:           true,
				ServerName:        "k8s",
				CommunicationType: models.CommunicationTypeToolList,
			},
		}

		events := EventsFromInteractions(llm, mcp, false)

		assert.Empty(t, events)
	})

	t.Run("failed tool call retells its error", func(t *testing.T) {
		errMsg := "connection refused"
		mcp := []models.MCPInteraction{
			{
				TimestampUS:       1000,
				Success:           false,
				ServerName:        "k8s",
				CommunicationType: models.CommunicationTypeToolCall,
				ToolName:          &toolName,
				ErrorMessage:      &errMsg,
			},
		}

		events := EventsFromInteractions(nil, mcp, false)

		require.Len(t, events, 1)
		assert.Equal(t, EventToolCall, events[0].Type)
		assert.Equal(t, "connection refused", events[0].Content)
	})
}
