package llm

import (
	"fmt"
	"strings"
)

// Trailer is appended to every response text shown to the user. The system
// prompt line is left out for slash-command responses.
func Trailer(connectorNames []string, systemPrompt string, command bool) string {
	names := strings.Join(connectorNames, ", ")
	if names == "" {
		names = "None"
	}

	trailer := fmt.Sprintf("\n\n*Context used (connectors): %s*", names)
	if systemPrompt != "" && !command {
		trailer += fmt.Sprintf("\n\n*System prompt applied: \"%s\"*", systemPrompt)
	}
	return trailer
}
