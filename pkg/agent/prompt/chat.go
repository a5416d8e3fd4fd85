package prompt

import (
	"fmt"
	"strings"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// buildChatUserMessage builds the user message for a chat follow-up session.
func (b *Builder) buildChatUserMessage(
	execCtx *agent.ExecutionContext,
	tools []agent.ToolDefinition,
) string {
	chat := execCtx.ChatContext
	if chat == nil {
		return ""
	}

	var sb strings.Builder

	// Available tools (ReAct only)
	if len(tools) > 0 {
		sb.WriteString("Answer the following question using the available tools.\n\n")
		sb.WriteString("Available tools:\n\n")
		sb.WriteString(FormatToolDescriptions(tools))
		sb.WriteString("\n\n")
	}

	// Investigation context (pre-formatted by the chat executor — the full
	// timeline of the original investigation)
	sb.WriteString(chat.InvestigationContext)

	// Previous chat exchanges, oldest first
	if history := FormatChatHistory(chat.ChatHistory); history != "" {
		sb.WriteString("\n\n")
		sb.WriteString(history)
	}

	// Current task
	sb.WriteString(fmt.Sprintf(`
%s
🎯 CURRENT TASK
%s

**Question:** %s

**Your Task:**
Answer the user's question based on the investigation context above.
- Reference investigation history when relevant
- Use tools to get fresh data if needed
- Provide clear, actionable responses

Begin your response:
`, separator, separator, chat.UserQuestion))

	return sb.String()
}

// FormatChatHistory renders completed chat exchanges for re-injection into
// the next chat prompt. Returns "" when there are none.
//
// Within an exchange, user-role messages are system-inserted observations
// (tool results fed back to the model), not user turns — the user's actual
// question is the exchange's UserQuestion.
func FormatChatHistory(exchanges []agent.ChatExchange) string {
	if len(exchanges) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(separator + "\n")
	sb.WriteString(fmt.Sprintf("💬 CHAT HISTORY (%d previous exchange%s)\n", len(exchanges), pluralS(len(exchanges))))
	sb.WriteString(separator + "\n")

	for i, ex := range exchanges {
		sb.WriteString(fmt.Sprintf("\n**Exchange %d:**\n\n", i+1))
		sb.WriteString("**USER:** ")
		sb.WriteString(ex.UserQuestion)
		sb.WriteString("\n")

		for _, msg := range ex.Messages {
			switch msg.Role {
			case models.RoleAssistant:
				sb.WriteString("\n**ASSISTANT:** ")
				sb.WriteString(msg.Content)
				sb.WriteString("\n")
			case models.RoleUser:
				sb.WriteString("\n**Observation:** ")
				sb.WriteString(strings.TrimPrefix(msg.Content, "Observation: "))
				sb.WriteString("\n")
			case models.RoleTool:
				sb.WriteString("\n**Observation (tool):** ")
				sb.WriteString(msg.Content)
				sb.WriteString("\n")
			}
		}
	}

	return sb.String()
}

// pluralS returns "s" unless n is exactly 1.
func pluralS(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
