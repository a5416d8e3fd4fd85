package stagectx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

const investigationSeparator = "═══════════════════════════════════════════════════════════════════════════════"

// Event kinds retold by the investigation formatters. Reasoning text is never
// persisted on conversation messages, so a recorded investigation retells as
// responses, tool calls, and the concluding analysis.
const (
	EventResponse      = "llm_response"
	EventToolCall      = "tool_call"
	EventFinalAnalysis = "final_analysis"
)

// Event is one retold step of a recorded investigation.
type Event struct {
	Type      string
	Content   string
	Server    string
	Tool      string
	Arguments string
}

// AgentInvestigation is one agent's recorded run within a stage.
type AgentInvestigation struct {
	AgentName         string
	AgentIndex        int
	IterationStrategy string
	LLMProvider       string
	Status            models.StageStatus
	ErrorMessage      string
	Events            []Event
}

// StageInvestigation is one stage of a recorded investigation, with the
// synthesis conclusion when the stage produced one.
type StageInvestigation struct {
	StageName       string
	StageIndex      int
	Agents          []AgentInvestigation
	SynthesisResult string
}

// FormatStructuredInvestigation retells a completed investigation for a chat
// agent: every stage in order, parallel stages in the same block format the
// synthesis agent saw, plus the executive summary when one exists. Stages are
// numbered sequentially regardless of their recorded indices.
func FormatStructuredInvestigation(stages []StageInvestigation, executiveSummary string) string {
	var sb strings.Builder
	sb.WriteString(investigationSeparator + "\n")
	sb.WriteString("📋 INVESTIGATION HISTORY\n")
	sb.WriteString(investigationSeparator + "\n\n")
	sb.WriteString("# Original Investigation\n\n")

	for i, stage := range stages {
		fmt.Fprintf(&sb, "## Stage %d: %s\n\n", i+1, stage.StageName)
		switch {
		case len(stage.Agents) > 1:
			sb.WriteString(FormatInvestigationForSynthesis(stage.Agents, stage.StageName))
		case len(stage.Agents) == 1:
			writeAgentInvestigation(&sb, stage.Agents[0], false)
		}
		if stage.SynthesisResult != "" {
			sb.WriteString("### Synthesis Result\n\n")
			sb.WriteString(stage.SynthesisResult)
			sb.WriteString("\n\n")
		}
	}

	if executiveSummary != "" {
		sb.WriteString("## Executive Summary\n\n")
		sb.WriteString(executiveSummary)
		sb.WriteString("\n")
	}

	return sb.String()
}

// FormatInvestigationForSynthesis presents every agent of a fan-out to the
// synthesis agent: per-agent status, error, and findings, successful and
// failed alike.
func FormatInvestigationForSynthesis(agents []AgentInvestigation, stageName string) string {
	succeeded := 0
	for _, a := range agents {
		if a.Status == models.StageStatusCompleted {
			succeeded++
		}
	}

	var sb strings.Builder
	sb.WriteString("<!-- PARALLEL_RESULTS_START -->\n")
	fmt.Fprintf(&sb, "### Parallel Investigation: %q — %d/%d agents succeeded\n\n", stageName, succeeded, len(agents))
	for _, a := range agents {
		writeAgentInvestigation(&sb, a, true)
	}
	sb.WriteString("<!-- PARALLEL_RESULTS_END -->\n")
	return sb.String()
}

func writeAgentInvestigation(sb *strings.Builder, a AgentInvestigation, parallel bool) {
	name := a.AgentName
	if quals := agentQualifiers(a); quals != "" {
		name += " (" + quals + ")"
	}
	if parallel {
		fmt.Fprintf(sb, "#### Agent %d: %s\n", a.AgentIndex, name)
	} else {
		fmt.Fprintf(sb, "**Agent:** %s\n", name)
	}
	fmt.Fprintf(sb, "**Status**: %s\n", a.Status)
	if a.ErrorMessage != "" {
		fmt.Fprintf(sb, "**Error**: %s\n", a.ErrorMessage)
	}
	sb.WriteString("\n")

	switch {
	case len(a.Events) > 0:
		formatEvents(sb, a.Events)
	case a.Status != models.StageStatusCompleted:
		sb.WriteString("(No investigation history available)\n\n")
	}
}

func agentQualifiers(a AgentInvestigation) string {
	switch {
	case a.IterationStrategy != "" && a.LLMProvider != "":
		return a.IterationStrategy + ", " + a.LLMProvider
	case a.IterationStrategy != "":
		return a.IterationStrategy
	default:
		return a.LLMProvider
	}
}

func formatEvents(sb *strings.Builder, events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case EventResponse:
			writeLabelled(sb, "Agent Response", ev.Content)
		case EventFinalAnalysis:
			writeLabelled(sb, "Final Analysis", ev.Content)
		case EventToolCall:
			if ev.Server != "" && ev.Tool != "" {
				fmt.Fprintf(sb, "**Tool Call:** %s.%s(%s)\n", ev.Server, ev.Tool, ev.Arguments)
			} else {
				fmt.Fprintf(sb, "**Tool Call:** %s\n", ev.Content)
			}
			if ev.Content != "" {
				writeLabelled(sb, "Result", ev.Content)
			}
		default:
			writeLabelled(sb, strings.ReplaceAll(ev.Type, "_", " "), ev.Content)
		}
	}
}

func writeLabelled(sb *strings.Builder, label, content string) {
	sb.WriteString("**" + label + ":**\n\n")
	sb.WriteString(content)
	sb.WriteString("\n\n")
}

// AgentsFromParallelResult converts a fan-out's child results into
// investigation entries, pairing each child with its aggregation metadata by
// launch order. Each successful child contributes its result summary as a
// final-analysis event.
func AgentsFromParallelResult(p *models.ParallelStageResult) []AgentInvestigation {
	agents := make([]AgentInvestigation, len(p.Results))
	for i, r := range p.Results {
		a := AgentInvestigation{
			AgentName:  r.AgentName,
			AgentIndex: i + 1,
			Status:     r.Status,
		}
		if r.ErrorMessage != nil {
			a.ErrorMessage = *r.ErrorMessage
		}
		if i < len(p.Metadata.Agents) {
			a.IterationStrategy = p.Metadata.Agents[i].IterationStrategy
			a.LLMProvider = p.Metadata.Agents[i].LLMProvider
		}
		if r.ResultSummary != "" {
			a.Events = []Event{{Type: EventFinalAnalysis, Content: r.ResultSummary}}
		}
		agents[i] = a
	}
	return agents
}

// EventsFromInteractions merges one stage's recorded LLM and MCP interactions
// into retold events ordered by capture timestamp. Executive-summary calls and
// failed LLM calls are skipped; tool calls are retold from the MCP record,
// which carries both the call and its result. When concluded is true the last
// response is retold as the final analysis.
func EventsFromInteractions(llm []models.LLMInteraction, mcp []models.MCPInteraction, concluded bool) []Event {
	type tsEvent struct {
		ts int64
		ev Event
	}
	merged := make([]tsEvent, 0, len(llm)+len(mcp))

	for _, in := range llm {
		if !in.Success || in.InteractionType == models.InteractionTypeExecutiveSummary {
			continue
		}
		msg, ok := lastAssistantMessage(in.Conversation)
		if !ok || len(msg.ToolCalls) > 0 || msg.Content == "" {
			continue
		}
		merged = append(merged, tsEvent{in.TimestampUS, Event{Type: EventResponse, Content: msg.Content}})
	}

	for _, in := range mcp {
		if in.CommunicationType != models.CommunicationTypeToolCall || in.ToolName == nil {
			continue
		}
		merged = append(merged, tsEvent{in.TimestampUS, Event{
			Type:      EventToolCall,
			Server:    in.ServerName,
			Tool:      *in.ToolName,
			Arguments: encodeArguments(in.ToolArguments),
			Content:   toolResultText(in),
		}})
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ts < merged[j].ts })

	events := make([]Event, len(merged))
	for i, m := range merged {
		events[i] = m.ev
	}
	if concluded {
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Type == EventResponse {
				events[i].Type = EventFinalAnalysis
				break
			}
		}
	}
	return events
}

func lastAssistantMessage(conversation []models.ConversationMessage) (models.ConversationMessage, bool) {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == models.RoleAssistant {
			return conversation[i], true
		}
	}
	return models.ConversationMessage{}, false
}

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}

func toolResultText(in models.MCPInteraction) string {
	if content, ok := in.ToolResult["content"].(string); ok && content != "" {
		return content
	}
	if !in.Success && in.ErrorMessage != nil {
		return *in.ErrorMessage
	}
	return ""
}
