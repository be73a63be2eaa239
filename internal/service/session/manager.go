package session

import (
	"context"
	"maps"
	"slices"
	"sync"

	"mcp-chat/internal/app"
	"mcp-chat/internal/auth"
	"mcp-chat/internal/logger"
	"mcp-chat/internal/service/chat"
	"mcp-chat/internal/service/conversation"
	"mcp-chat/internal/service/llm"
	"mcp-chat/internal/service/power"
)

// Manager owns one State per signed-in user. Start and End are the session
// lifecycle events; everything a session subscribes to is torn down in End.
type Manager struct {
	config   *app.Config
	adapters llm.Adapters
	catalog  []llm.ModelDescriptor
	sealer   *auth.Sealer

	mu       sync.Mutex
	sessions map[string]*State
	starting map[string]*pendingStart
}

// pendingStart lets concurrent Start calls for one user wait on a single start
type pendingStart struct {
	done  chan struct{}
	state *State
	err   error
}

// NewManager creates a new Manager
func NewManager(config *app.Config, adapters llm.Adapters, sealer *auth.Sealer) *Manager {
	return &Manager{
		config:   config,
		adapters: adapters,
		catalog:  llm.DescribeCatalog(config.ModelsConfig().GetAvailableModels()),
		sealer:   sealer,
		sessions: make(map[string]*State),
		starting: make(map[string]*pendingStart),
	}
}

// Start returns the user's running session, starting one if needed
func (m *Manager) Start(ctx context.Context, identity auth.Identity) (*State, error) {
	if !identity.Authenticated() {
		return nil, conversation.ErrStorePreconditionNotMet
	}

	m.mu.Lock()
	if state, ok := m.sessions[identity.UserID]; ok {
		m.mu.Unlock()
		return state, nil
	}
	if p, ok := m.starting[identity.UserID]; ok {
		m.mu.Unlock()
		select {
		case <-p.done:
			return p.state, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingStart{done: make(chan struct{})}
	m.starting[identity.UserID] = p
	m.mu.Unlock()

	// subscriptions run outside the lock so other users are not held up
	state := m.newState(identity)
	err := state.start(ctx)

	m.mu.Lock()
	delete(m.starting, identity.UserID)
	if err == nil {
		m.sessions[identity.UserID] = state
		p.state = state
	} else {
		p.err = err
	}
	m.mu.Unlock()
	close(p.done)

	if err != nil {
		logger.ForUser(identity.UserID).WithError(err).Error("Failed to start session")
		return nil, err
	}
	return state, nil
}

func (m *Manager) newState(identity auth.Identity) *State {
	cfg := m.config.AppConfig
	capabilities := power.DefaultCapabilities()
	ledger := power.NewLedger(capabilities)

	state := &State{
		identity:      identity,
		store:         m.config.Store,
		appID:         cfg.Store.AppID,
		sealer:        m.sealer,
		Conversations: conversation.NewConversationService(m.config.Store, cfg.Store.AppID),
		Ledger:        ledger,
		Router:        power.NewRouter(ledger, capabilities, cfg.Power.Delay),
		Models:        llm.NewRegistry(m.adapters, m.catalog, cfg.LLM.RequestTimeout),
	}
	state.connectors, _ = connectorSet(DefaultActiveConnectors)
	state.Chat = chat.NewChatService(chat.Dependencies{
		Conversations: state.Conversations,
		Router:        state.Router,
		Models:        state.Models,
		Session:       state,
		DefaultModel:  m.config.ModelsConfig().GetDefaultModel(),
	})
	return state
}

// Get returns the running session of userID
func (m *Manager) Get(userID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[userID]
	return state, ok
}

// End stops the user's session. Ending a missing session is a no-op.
func (m *Manager) End(userID string) {
	m.mu.Lock()
	state, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		state.stop()
	}
}

// Close ends every session
func (m *Manager) Close() {
	m.mu.Lock()
	userIDs := slices.Collect(maps.Keys(m.sessions))
	m.mu.Unlock()

	for _, id := range userIDs {
		m.End(id)
	}
}

// Models returns the built-in catalog shared by all sessions
func (m *Manager) Models() []llm.ModelDescriptor {
	return slices.Clone(m.catalog)
}
