package llm

import (
	"context"

	"mcp-chat/internal/repository/db"
)

// Request is the normalized input every adapter translates into its own wire shape
type Request struct {
	Model        ModelDescriptor
	Message      string
	SystemPrompt string
	Credentials  db.BackendCredentials
}

// Adapter defines one backend family's request/response translation
type Adapter interface {
	// Generate performs exactly one remote call and returns the response text
	Generate(ctx context.Context, req Request) (string, error)
}

// Credentials are the profile's per-family backend credentials
type Credentials struct {
	OpenAI    db.BackendCredentials
	Anthropic db.BackendCredentials
}
