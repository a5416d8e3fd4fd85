package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

// maxBlockTextLength stays under Slack's 3000-character section block cap
// with room for the truncation notice.
const maxBlockTextLength = 2900

// statusPresentation maps a terminal session status to its rendering.
type statusPresentation struct {
	emoji string
	label string
}

var presentations = map[string]statusPresentation{
	"completed": {":white_check_mark:", "Analysis Complete"},
	"failed":    {":x:", "Analysis Failed"},
	"timed_out": {":hourglass:", "Analysis Timed Out"},
	"cancelled": {":no_entry_sign:", "Analysis Cancelled"},
}

func presentationFor(status string) statusPresentation {
	if p, ok := presentations[status]; ok {
		return p
	}
	return statusPresentation{":question:", "Analysis " + status}
}

func sessionURL(sessionID, dashboardURL string) string {
	return fmt.Sprintf("%s/sessions/%s", dashboardURL, sessionID)
}

func markdownSection(text string) *goslack.SectionBlock {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// BuildStartedMessage renders the "processing started" notification.
func BuildStartedMessage(sessionID, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(
		":arrows_counterclockwise: *Processing started* — this may take a few minutes.\n<%s|View in Dashboard>",
		sessionURL(sessionID, dashboardURL))
	return []goslack.Block{markdownSection(text)}
}

// BuildTerminalMessage renders the outcome notification: a status header,
// the analysis content for completed sessions or the error for failed
// ones, and a dashboard link button.
func BuildTerminalMessage(input SessionCompletedInput, dashboardURL string) []goslack.Block {
	p := presentationFor(input.Status)
	header := fmt.Sprintf("%s *%s*", p.emoji, p.label)

	var blocks []goslack.Block
	if input.Status == "completed" {
		blocks = append(blocks, markdownSection(header))
		if content := completedContent(input); content != "" {
			blocks = append(blocks, markdownSection(truncateForSlack(content)))
		}
	} else {
		if input.ErrorMessage != "" {
			header += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
		}
		blocks = append(blocks, markdownSection(header))
	}

	return append(blocks, linkBlock(input, dashboardURL))
}

// completedContent prefers the executive summary, falling back to the raw
// final analysis when no summary was produced.
func completedContent(input SessionCompletedInput) string {
	if input.ExecutiveSummary != "" {
		return input.ExecutiveSummary
	}
	return input.FinalAnalysis
}

func linkBlock(input SessionCompletedInput, dashboardURL string) goslack.Block {
	buttonText := "View Full Analysis"
	if input.Status != "completed" {
		buttonText = "View Details"
	}
	btn := goslack.NewButtonBlockElement("", "",
		goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = sessionURL(input.SessionID, dashboardURL)
	return goslack.NewActionBlock("", btn)
}

// truncateForSlack cuts at a rune boundary so multi-byte content never
// produces a broken block.
func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	if len(runes) > maxBlockTextLength {
		runes = runes[:maxBlockTextLength]
	}
	return string(runes) + "\n\n_... (truncated — view full analysis in dashboard)_"
}
