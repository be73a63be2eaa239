package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"mcp-chat/internal/app"
	"mcp-chat/internal/auth"
	"mcp-chat/internal/config"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/repository/memory"
	"mcp-chat/internal/service/llm"
)

// MockConversationStore records appended messages per conversation
type MockConversationStore struct {
	mu sync.Mutex

	Current       string
	Conversations map[string]db.Conversation

	// AppendMessageFunc overrides the default recording behaviour when set
	AppendMessageFunc func(ctx context.Context, conversationID string, msg db.Message) error
}

func NewMockConversationStore(currentID string) *MockConversationStore {
	return &MockConversationStore{
		Current: currentID,
		Conversations: map[string]db.Conversation{
			currentID: {ID: currentID, Title: "New conversation", Type: db.ConversationChat},
		},
	}
}

func (m *MockConversationStore) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Current
}

// SetCurrent switches the current conversation, creating it when missing
func (m *MockConversationStore) SetCurrent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Conversations[id]; !ok {
		m.Conversations[id] = db.Conversation{ID: id, Type: db.ConversationChat}
	}
	m.Current = id
}

func (m *MockConversationStore) Get(id string) (db.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.Conversations[id]
	conv.Messages = slices.Clone(conv.Messages)
	return conv, ok
}

func (m *MockConversationStore) AppendMessage(ctx context.Context, conversationID string, msg db.Message) error {
	if m.AppendMessageFunc != nil {
		if err := m.AppendMessageFunc(ctx, conversationID, msg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.Conversations[conversationID]
	if !ok {
		return errors.New("conversation not found")
	}
	conv.Messages = append(conv.Messages, msg)
	m.Conversations[conversationID] = conv
	return nil
}

// Messages returns what was appended to conversationID
func (m *MockConversationStore) Messages(conversationID string) []db.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Conversations[conversationID].Messages)
}

// MockModelRegistry is a mock implementation of the dispatcher's model registry
type MockModelRegistry struct {
	AttemptFunc func(ctx context.Context, modelID, message, systemPrompt string, creds llm.Credentials) (string, error)

	mu    sync.Mutex
	Calls int
}

func (m *MockModelRegistry) Attempt(ctx context.Context, modelID, message, systemPrompt string, creds llm.Credentials) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.AttemptFunc != nil {
		return m.AttemptFunc(ctx, modelID, message, systemPrompt, creds)
	}
	return "", errors.New("not implemented")
}

// MockSession is a fixed session context
type MockSession struct {
	IdentityValue    auth.Identity
	CredentialsValue llm.Credentials
	ConnectorNames   []string
	Agent            *db.Agent
}

func NewMockSession(userID string) *MockSession {
	return &MockSession{
		IdentityValue:  auth.Identity{UserID: userID, Status: auth.StatusAuthenticated},
		ConnectorNames: []string{"File system", "Web search"},
	}
}

func (m *MockSession) Identity() auth.Identity {
	return m.IdentityValue
}

func (m *MockSession) Credentials() llm.Credentials {
	return m.CredentialsValue
}

func (m *MockSession) ActiveConnectorNames() []string {
	return m.ConnectorNames
}

func (m *MockSession) ActiveAgent() (db.Agent, bool) {
	if m.Agent == nil {
		return db.Agent{}, false
	}
	return *m.Agent, true
}

// MockAdapter is a mock implementation of llm.Adapter
type MockAdapter struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (string, error)
}

func (m *MockAdapter) Generate(ctx context.Context, req llm.Request) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return "", errors.New("not implemented")
}

// NewMockConfig creates an app.Config over an in-memory store
func NewMockConfig() *app.Config {
	return app.NewConfig(memory.NewStore(), &config.AppConfig{
		Server: config.ServerConfig{Port: "8080"},
		Store:  config.StoreConfig{Backend: config.StoreMemory, AppID: "test-app"},
		LLM: config.LLMConfig{
			DefaultAPIKey:  "test-api-key",
			RequestTimeout: 5 * time.Second,
		},
		RateLimit: config.RateLimitConfig{PerSecond: 100, Burst: 100},
		Auth: config.AuthConfig{
			JWTSecret:       []byte("test-secret-key-with-at-least-32-chars"),
			TokenExpiration: time.Hour,
		},
		Models: config.DefaultModelsConfig(),
	})
}
