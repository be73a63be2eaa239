package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"mcp-chat/internal/auth"
	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/service/chat"
	"mcp-chat/internal/service/conversation"
	"mcp-chat/internal/service/llm"
	"mcp-chat/internal/service/power"

	"github.com/sirupsen/logrus"
)

// State is everything one authenticated user's session owns: the conversation
// view, the credit ledger, the model registry and the workspace collections.
type State struct {
	identity auth.Identity
	store    db.DocumentStore
	appID    string
	sealer   *auth.Sealer

	Conversations *conversation.ConversationService
	Ledger        *power.Ledger
	Router        *power.Router
	Models        *llm.Registry
	Chat          *chat.ChatService

	mu              sync.RWMutex
	running         bool
	profile         db.Profile
	profileLoaded   bool
	profileCreating bool
	tools           []db.Tool
	agents          []db.Agent
	customModels    []db.CustomModel
	contextPills    []db.ContextPill
	customPrompts   []db.CustomPrompt
	mcpServers      []db.MCPServer
	connectors      map[string]bool
	unsubscribes    []db.Unsubscribe
}

func (s *State) Identity() auth.Identity {
	return s.identity
}

// start subscribes the conversation view and every workspace collection
func (s *State) start(ctx context.Context) error {
	if err := s.Conversations.Start(ctx, s.identity); err != nil {
		return err
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	byCreation := db.Query{OrderBy: "createdAt"}
	subscriptions := []struct {
		collection string
		query      db.Query
		apply      func(db.Snapshot)
	}{
		{db.CollectionProfile, db.Query{}, s.applyProfile},
		{db.CollectionTools, byCreation, func(snap db.Snapshot) {
			tools := decodeDocuments[db.Tool](snap.Documents)
			s.mu.Lock()
			s.tools = tools
			s.mu.Unlock()
		}},
		{db.CollectionAgents, byCreation, func(snap db.Snapshot) {
			agents := decodeDocuments[db.Agent](snap.Documents)
			s.mu.Lock()
			s.agents = agents
			s.mu.Unlock()
		}},
		{db.CollectionCustomModels, byCreation, s.applyCustomModels},
		{db.CollectionContextPills, byCreation, func(snap db.Snapshot) {
			pills := decodeDocuments[db.ContextPill](snap.Documents)
			s.mu.Lock()
			s.contextPills = pills
			s.mu.Unlock()
		}},
		{db.CollectionCustomPrompts, byCreation, func(snap db.Snapshot) {
			prompts := decodeDocuments[db.CustomPrompt](snap.Documents)
			s.mu.Lock()
			s.customPrompts = prompts
			s.mu.Unlock()
		}},
		{db.CollectionMCPServers, byCreation, func(snap db.Snapshot) {
			servers := decodeDocuments[db.MCPServer](snap.Documents)
			s.mu.Lock()
			s.mcpServers = servers
			s.mu.Unlock()
		}},
	}

	for _, sub := range subscriptions {
		collection := sub.collection
		unsubscribe, err := s.store.Subscribe(ctx, s.path(collection), sub.query, sub.apply, func(err error) {
			logger.ForUser(s.identity.UserID).WithError(err).WithField("collection", collection).Error("Subscription error")
		})
		if err != nil {
			s.stop()
			return fmt.Errorf("failed to subscribe to %s: %w", collection, err)
		}

		s.mu.Lock()
		s.unsubscribes = append(s.unsubscribes, unsubscribe)
		s.mu.Unlock()
	}

	logger.ForUser(s.identity.UserID).WithField("subscriptions", len(subscriptions)+1).Info("Session started")
	return nil
}

// stop tears down every subscription this session opened
func (s *State) stop() {
	s.mu.Lock()
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	s.running = false
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	s.Conversations.Stop()

	logger.ForUser(s.identity.UserID).Info("Session ended")
}

func (s *State) path(collection string) string {
	return db.CollectionPath(s.appID, s.identity.UserID, collection)
}

// ready reports whether store operations may run
func (s *State) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running || !s.identity.Authenticated() {
		return conversation.ErrStorePreconditionNotMet
	}
	return nil
}

func (s *State) applyProfile(snap db.Snapshot) {
	log := logger.ForUser(s.identity.UserID)

	for _, doc := range snap.Documents {
		if doc.ID != db.ProfileDocumentID {
			continue
		}
		var profile db.Profile
		if err := db.Decode(doc, &profile); err != nil {
			log.WithError(err).Error("Failed to decode profile")
			return
		}
		profile.OpenAIConfig.APIKey = s.openKey(profile.OpenAIConfig.APIKey, "openai")
		profile.AnthropicConfig.APIKey = s.openKey(profile.AnthropicConfig.APIKey, "anthropic")

		s.mu.Lock()
		s.profile = profile
		s.profileLoaded = true
		s.profileCreating = false
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.profileCreating || !s.running {
		s.mu.Unlock()
		return
	}
	s.profileCreating = true
	s.profile = defaultProfile(s.identity.UserID)
	s.profileLoaded = true
	profile := s.profile
	s.mu.Unlock()

	err := s.store.Merge(context.Background(), s.path(db.CollectionProfile), db.ProfileDocumentID, map[string]any{
		"displayName":     profile.DisplayName,
		"createdAt":       db.ServerTimestamp,
		"openaiConfig":    map[string]any{"apiKey": "", "baseUrl": ""},
		"anthropicConfig": map[string]any{"apiKey": "", "baseUrl": ""},
		"activeAgentId":   nil,
	})
	if err != nil {
		s.mu.Lock()
		s.profileCreating = false
		s.mu.Unlock()
		log.WithError(err).Error("Failed to create default profile")
		return
	}
	log.WithField("display_name", profile.DisplayName).Info("Profile created with default display name")
}

func (s *State) openKey(value, family string) string {
	plain, err := s.sealer.Open(value)
	if err != nil {
		logger.ForUser(s.identity.UserID).WithError(err).WithField("family", family).Warn("Stored API key could not be unsealed, ignoring it")
		return ""
	}
	return plain
}

func (s *State) applyCustomModels(snap db.Snapshot) {
	models := make([]db.CustomModel, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		var m db.CustomModel
		if err := db.Decode(doc, &m); err != nil {
			logger.Log.WithError(err).WithField("document_id", doc.ID).Warn("Skipping undecodable custom model")
			continue
		}
		m.ID = doc.ID
		models = append(models, m)
	}

	s.mu.Lock()
	s.customModels = models
	s.mu.Unlock()

	s.Models.SetCustomModels(models)
}

func defaultProfile(userID string) db.Profile {
	short := userID
	if len(short) > 4 {
		short = short[:4]
	}
	return db.Profile{DisplayName: "Anonymous user " + short}
}

func decodeDocuments[T any](docs []db.Document) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := db.Decode(doc, &v); err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{
				"document_id": doc.ID,
			}).Warn("Skipping undecodable document")
			continue
		}
		out = append(out, v)
	}
	return out
}

// Profile returns the profile with API keys in clear
func (s *State) Profile() db.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.profile
	if p.ActiveAgentID != nil {
		id := *p.ActiveAgentID
		p.ActiveAgentID = &id
	}
	return p
}

// Credentials returns the per-family backend credentials from the profile
func (s *State) Credentials() llm.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return llm.Credentials{
		OpenAI:    s.profile.OpenAIConfig,
		Anthropic: s.profile.AnthropicConfig,
	}
}

// ActiveAgent resolves the profile's active agent id against the current agent list
func (s *State) ActiveAgent() (db.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile.ActiveAgentID == nil {
		return db.Agent{}, false
	}
	for _, a := range s.agents {
		if a.ID == *s.profile.ActiveAgentID {
			a.ToolIDs = slices.Clone(a.ToolIDs)
			return a, true
		}
	}
	return db.Agent{}, false
}

// ActiveTools returns the active tools selected by the active agent
func (s *State) ActiveTools() []db.Tool {
	agent, ok := s.ActiveAgent()
	if !ok {
		return []db.Tool{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []db.Tool{}
	for _, t := range s.tools {
		if t.Status == db.StatusActive && slices.Contains(agent.ToolIDs, t.ID) {
			out = append(out, t)
		}
	}
	return out
}

func (s *State) Tools() []db.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tools)
}

func (s *State) Agents() []db.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.agents)
}

func (s *State) CustomModels() []db.CustomModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.customModels)
}

func (s *State) ContextPills() []db.ContextPill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.contextPills)
}

func (s *State) CustomPrompts() []db.CustomPrompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.customPrompts)
}

func (s *State) MCPServers() []db.MCPServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.mcpServers)
}

// Connectors returns the catalog with this session's toggles
func (s *State) Connectors() []Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Connector, 0, len(connectorCatalog))
	for _, c := range connectorCatalog {
		c.Active = s.connectors[c.ID]
		out = append(out, c)
	}
	return out
}

// ActiveConnectorNames lists the names of the active connectors in catalog order
func (s *State) ActiveConnectorNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := []string{}
	for _, c := range connectorCatalog {
		if s.connectors[c.ID] {
			names = append(names, c.Name)
		}
	}
	return names
}

// SetActiveConnectors replaces the active set. Connectors are not persisted.
func (s *State) SetActiveConnectors(ids []string) error {
	set, err := connectorSet(ids)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.connectors = set
	s.mu.Unlock()
	return nil
}

// ToggleConnector flips one connector and reports its new state
func (s *State) ToggleConnector(id string) (bool, error) {
	if !isConnector(id) {
		return false, fmt.Errorf("unknown connector: %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[id] = !s.connectors[id]
	return s.connectors[id], nil
}
