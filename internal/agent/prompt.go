package agent

import (
	"fmt"
	"strings"

	"github.com/propfolio/researchd/pkg/models"
)

// systemPrelude anchors every agent turn. The dispatch target wraps the
// whole prompt in its schema scaffolding, so this stays plain text.
const systemPrelude = `You are a property research agent. You work toward the research goal below by reasoning step by step and using the available tools. Answer directly when you have enough information; set is_final to true only when the goal is fully addressed and include a short title for the finished session.`

// buildPrompt renders the deterministic agent prompt: prelude, preserved
// context, goal, history tail, and the tool catalog. Identical session state
// produces an identical prompt.
func buildPrompt(session *models.Session, catalog string) string {
	var b strings.Builder

	b.WriteString(systemPrelude)
	b.WriteString("\n\n")

	if len(session.Context) > 0 {
		b.WriteString("<CONTEXT>\n")
		for _, entry := range session.Context {
			b.WriteString("- ")
			b.WriteString(entry.Content)
			b.WriteString("\n")
		}
		b.WriteString("</CONTEXT>\n\n")
	}

	b.WriteString("<GOAL>\n")
	b.WriteString(session.ResearchGoal)
	b.WriteString("\n</GOAL>\n\n")

	if len(session.History) > 0 {
		b.WriteString("<HISTORY>\n")
		for _, entry := range session.History {
			writeHistoryEntry(&b, entry)
		}
		b.WriteString("</HISTORY>\n\n")
	}

	b.WriteString("<TOOLS>\n")
	b.WriteString(catalog)
	b.WriteString("</TOOLS>")
	return b.String()
}

func writeHistoryEntry(b *strings.Builder, entry models.ConversationEntry) {
	switch entry.Sender {
	case models.SenderUser:
		fmt.Fprintf(b, "[user] %s\n", entry.Message)
	case models.SenderAgent:
		fmt.Fprintf(b, "[agent] %s\n", entry.Message)
	case models.SenderTool:
		if entry.ToolResponse != nil {
			status := "ok"
			if entry.ToolResponse.IsError {
				status = "error"
			}
			fmt.Fprintf(b, "[tool %s %s] %s\n", entry.Message, status, entry.ToolResponse.Full)
		} else {
			fmt.Fprintf(b, "[tool %s]\n", entry.Message)
		}
	}
}
