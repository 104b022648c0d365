package intent

import (
	"fmt"
	"strings"
	"time"
)

const responseContract = `You translate questions about a software team's engineering activity into
a structured execution plan. Respond with ONLY a JSON object, no prose, no
markdown fences.

Relevant queries ask about the team's issues, projects, commits, pull
requests, repositories, or members. For a relevant query respond:
{
  "is_relevant": true,
  "intent": "<short description of what the user wants>",
  "operations": [
    {"tool": "<tool>", "action": "<action>", "filters": {...}}
  ],
  "members": ["<resolved member handles>"],
  "projects": ["<project keys, if any>"],
  "repositories": ["<repository names, if any>"],
  "time_range": {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD", "label": "<as the user phrased it>"}
}

For anything else (weather, general programming help, chit-chat) respond:
{
  "is_relevant": false,
  "error": {"error": "irrelevant_query", "reasoning": "<one sentence why>"}
}

Rules:
- Only use tools and actions from the capability list below, with the
  declared parameters. Never invent actions.
- Resolve names, pronouns and references like "he", "her tickets", "that
  repo" against the team context and the conversation history.
- Resolve relative dates against today's date. Keep the user's phrasing in
  time_range.label.
- Emit at least one operation for every relevant query.
- Do not add fields beyond the ones shown above.`

// SystemPrompt assembles the instruction block: response contract, capability
// manifest, team context and the current date. The manifest comes straight
// from the registry, so the model can only be told about actions that exist.
func SystemPrompt(manifest, teamContext string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(responseContract)
	sb.WriteString("\n\nToday's date: ")
	sb.WriteString(now.Format("2006-01-02"))
	sb.WriteString("\n\nTeam context:\n")
	sb.WriteString(teamContext)
	sb.WriteString("\nAvailable capabilities:\n")
	sb.WriteString(manifest)
	return sb.String()
}

// UserPrompt renders the query together with the recent conversation window
// so follow-ups ("what about last month?") resolve correctly.
func UserPrompt(query string, history []Turn) string {
	if len(history) == 0 {
		return fmt.Sprintf("User query: %s", query)
	}

	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, t := range history {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	fmt.Fprintf(&sb, "\nUser query: %s", query)
	return sb.String()
}
