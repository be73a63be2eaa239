package db

import "time"

// ConversationType is a coarse tag shown in the sidebar; it does not change dispatch
type ConversationType string

const (
	ConversationChat  ConversationType = "chat"
	ConversationTool  ConversationType = "tool"
	ConversationAgent ConversationType = "agent"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Conversation represents a conversation document
type Conversation struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Type         ConversationType `json:"type"`
	Messages     []Message        `json:"messages"`
	SystemPrompt *string          `json:"systemPrompt"`
	Revision     int64            `json:"revision"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastUpdated  time.Time        `json:"lastUpdated"`
}

// Message is one entry of a conversation. Messages are never edited after append.
type Message struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Sender    Sender `json:"sender"`
	Timestamp string `json:"timestamp"`
	Model     string `json:"model,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

// BackendCredentials holds the key and optional base URL override for one backend family
type BackendCredentials struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

// Profile is the singleton per-user profile document
type Profile struct {
	DisplayName     string             `json:"displayName"`
	OpenAIConfig    BackendCredentials `json:"openaiConfig"`
	AnthropicConfig BackendCredentials `json:"anthropicConfig"`
	ActiveAgentID   *string            `json:"activeAgentId"`
}

// Status values shared by tools and agents
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Tool is a stored tool definition. Tools are listed, never executed.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Agent is a stored agent definition with a profession prompt and a tool selection
type Agent struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	ProfessionPrompt string   `json:"professionPrompt"`
	ToolIDs          []string `json:"toolIds"`
	Status           string   `json:"status"`
}

// CustomModel is a user-registered OpenAI-compatible endpoint.
// ModelID is the selection id (custom-api-...), Name is sent in the request body.
type CustomModel struct {
	ID      string `json:"-"`
	ModelID string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
}

// ContextPill is a reusable prompt preset
type ContextPill struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// CustomPrompt is a saved prompt snippet
type CustomPrompt struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MCPServer is a registered server URL; nothing connects to it
type MCPServer struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
