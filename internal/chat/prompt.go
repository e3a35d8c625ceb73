package chat

import (
	"fmt"
	"strings"
)

// HistoryWindow is how many prior turns are included in a prompt.
const HistoryWindow = 6

const systemPromptTemplate = "You are an agricultural expert specializing in plant diseases. The user's plant has been diagnosed with %s. Provide helpful, accurate advice about treatment and prevention. Be concise but informative. Keep responses under 200 words."

// Window returns the most recent HistoryWindow turns. The result aliases history.
func Window(history []Turn) []Turn {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}

// BuildPrompt renders the system instruction, the windowed history and the
// new user line, one per line.
func BuildPrompt(disease, message string, history []Turn) string {
	if disease == "" {
		disease = unknownDisease
	}

	var b strings.Builder
	fmt.Fprintf(&b, systemPromptTemplate, disease)
	b.WriteByte('\n')

	for _, turn := range Window(history) {
		speaker := "AI"
		if turn.Role == RoleUser {
			speaker = "User"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}

	b.WriteString("User: ")
	b.WriteString(message)
	return b.String()
}
