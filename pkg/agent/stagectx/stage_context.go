// Package stagectx formats accumulated stage results and recorded
// investigations into prompt context strings. The chain scheduler uses
// BuildStageContext to hand earlier stage conclusions to the next agent;
// the parallel executor uses FormatInvestigationForSynthesis to present
// all fan-out results to a synthesis agent; the chat executor uses
// FormatStructuredInvestigation to retell a completed investigation.
package stagectx

import (
	"fmt"
	"strings"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// StageResult is one completed stage's contribution to downstream prompts.
type StageResult struct {
	StageName     string
	FinalAnalysis string
}

// BuildStageContext formats completed stage results into a context block for
// the next stage's prompt. Returns "" when there are no prior stages.
func BuildStageContext(results []StageResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<!-- CHAIN_CONTEXT_START -->\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "### Stage %d: %s\n\n", i+1, r.StageName)
		if r.FinalAnalysis != "" {
			sb.WriteString(r.FinalAnalysis)
		} else {
			sb.WriteString("(No final analysis produced)")
		}
		sb.WriteString("\n\n")
	}
	sb.WriteString("<!-- CHAIN_CONTEXT_END -->")
	return sb.String()
}

// ResultsFromChain flattens recorded chain outputs into ordered stage results.
// A single-agent stage contributes its result summary. A parallel stage
// contributes the synthesis conclusion when one was produced, otherwise the
// full parallel results block so the next agent still sees every child's
// finding.
func ResultsFromChain(outputs []models.StageOutputEntry) []StageResult {
	results := make([]StageResult, 0, len(outputs))
	for _, entry := range outputs {
		out := entry.Output
		switch {
		case out.Parallel != nil:
			results = append(results, StageResult{
				StageName:     entry.Key,
				FinalAnalysis: parallelAnalysis(out.Parallel),
			})
		case out.Agent != nil:
			results = append(results, StageResult{
				StageName:     entry.Key,
				FinalAnalysis: out.Agent.ResultSummary,
			})
		}
	}
	return results
}

func parallelAnalysis(p *models.ParallelStageResult) string {
	if p.Synthesis != nil && p.Synthesis.Status == models.StageStatusCompleted && p.Synthesis.ResultSummary != "" {
		return p.Synthesis.ResultSummary
	}
	return FormatInvestigationForSynthesis(AgentsFromParallelResult(p), p.StageName)
}
