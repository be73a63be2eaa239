package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"mcp-chat/internal/auth"
	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// TitleMaxLength is the number of characters kept when a title is derived from a message
const TitleMaxLength = 40

var (
	// ErrStorePreconditionNotMet is returned when there is no active authenticated session
	ErrStorePreconditionNotMet = errors.New("store unavailable or user not authenticated")
	ErrConversationNotFound    = errors.New("conversation not found")
)

// DefaultTitle returns the title a new conversation of type t starts with
func DefaultTitle(t db.ConversationType) string {
	switch t {
	case db.ConversationTool:
		return "New tool"
	case db.ConversationAgent:
		return "New agent"
	default:
		return "New conversation"
	}
}

// DeriveTitle builds a title from the first user message
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= TitleMaxLength {
		return text
	}
	return string([]rune(text)[:TitleMaxLength]) + "..."
}

// ConversationService keeps the active user's conversations in sync with the
// document store and tracks which one is current.
type ConversationService struct {
	store db.DocumentStore
	appID string

	mu            sync.RWMutex
	identity      auth.Identity
	collection    string
	running       bool
	generation    int
	unsubscribe   db.Unsubscribe
	conversations map[string]db.Conversation
	order         []string
	currentID     string
	creating      bool

	// serializes read-modify-write appends
	writeMu sync.Mutex
}

// NewConversationService creates a new ConversationService
func NewConversationService(store db.DocumentStore, appID string) *ConversationService {
	return &ConversationService{
		store:         store,
		appID:         appID,
		conversations: make(map[string]db.Conversation),
	}
}

// Start subscribes to identity's conversations. Any previous session is stopped first.
func (s *ConversationService) Start(ctx context.Context, identity auth.Identity) error {
	if !identity.Authenticated() {
		return ErrStorePreconditionNotMet
	}
	s.Stop()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.identity = identity
	s.collection = db.CollectionPath(s.appID, identity.UserID, db.CollectionConversations)
	s.running = true
	collection := s.collection
	s.mu.Unlock()

	unsubscribe, err := s.store.Subscribe(ctx, collection,
		db.Query{OrderBy: "lastUpdated", Descending: true},
		func(snap db.Snapshot) { s.applySnapshot(gen, snap) },
		func(err error) {
			logger.ForUser(identity.UserID).WithError(err).Error("Conversation subscription error")
		})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.running = false
		}
		s.mu.Unlock()
		logger.ForUser(identity.UserID).WithError(err).Error("Failed to subscribe to conversations")
		return fmt.Errorf("failed to subscribe to conversations: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		// stopped while subscribing
		s.mu.Unlock()
		unsubscribe()
		return ErrStorePreconditionNotMet
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	logger.ForUser(identity.UserID).Info("Conversation subscription started")
	return nil
}

// Stop tears down the subscription and forgets the cached conversations
func (s *ConversationService) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	wasRunning := s.running
	userID := s.identity.UserID
	s.generation++
	s.running = false
	s.unsubscribe = nil
	s.identity = auth.Identity{Status: auth.StatusUnauthenticated}
	s.collection = ""
	s.conversations = make(map[string]db.Conversation)
	s.order = nil
	s.currentID = ""
	s.creating = false
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if wasRunning {
		logger.ForUser(userID).Info("Conversation subscription stopped")
	}
}

func (s *ConversationService) applySnapshot(gen int, snap db.Snapshot) {
	incoming := make([]db.Conversation, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		var conv db.Conversation
		if err := db.Decode(doc, &conv); err != nil {
			logger.Log.WithError(err).WithField("conversation_id", doc.ID).Warn("Skipping undecodable conversation")
			continue
		}
		conv.ID = doc.ID
		incoming = append(incoming, conv)
	}

	s.mu.Lock()
	if gen != s.generation || !s.running {
		s.mu.Unlock()
		return
	}

	next := make(map[string]db.Conversation, len(incoming))
	order := make([]string, 0, len(incoming))
	for _, conv := range incoming {
		if cached, ok := s.conversations[conv.ID]; ok && cached.Revision > conv.Revision {
			logger.ForUser(s.identity.UserID).WithFields(logrus.Fields{
				"conversation_id":   conv.ID,
				"cached_revision":   cached.Revision,
				"incoming_revision": conv.Revision,
			}).Debug("Ignoring stale conversation in snapshot")
			next[conv.ID] = cached
		} else {
			next[conv.ID] = conv
		}
		order = append(order, conv.ID)
	}
	s.conversations = next
	s.order = order
	s.sortLocked()

	needCreate := false
	if len(s.order) == 0 {
		s.currentID = ""
		if !s.creating {
			s.creating = true
			needCreate = true
		}
	} else {
		s.creating = false
		if _, ok := s.conversations[s.currentID]; !ok {
			s.currentID = s.order[0]
		}
	}
	s.mu.Unlock()

	if needCreate {
		s.autoCreate(gen)
	}
}

func (s *ConversationService) autoCreate(gen int) {
	logger.Log.Info("No conversations found, creating a new one")

	if _, err := s.CreateConversation(context.Background(), db.ConversationChat, ""); err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.creating = false
		}
		s.mu.Unlock()
	}
}

func (s *ConversationService) sortLocked() {
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.conversations[s.order[i]].LastUpdated.After(s.conversations[s.order[j]].LastUpdated)
	})
}

// session returns the active collection or ErrStorePreconditionNotMet
func (s *ConversationService) session() (string, string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running || !s.identity.Authenticated() {
		return "", "", 0, ErrStorePreconditionNotMet
	}
	return s.collection, s.identity.UserID, s.generation, nil
}

// CreateConversation allocates a new empty conversation and returns its id.
// An empty title uses the type's default.
func (s *ConversationService) CreateConversation(ctx context.Context, t db.ConversationType, title string) (string, error) {
	collection, userID, gen, err := s.session()
	if err != nil {
		return "", err
	}
	if t == "" {
		t = db.ConversationChat
	}
	if title == "" {
		title = DefaultTitle(t)
	}

	id, err := s.store.Create(ctx, collection, map[string]any{
		"title":        title,
		"type":         string(t),
		"messages":     []any{},
		"systemPrompt": nil,
		"revision":     0,
		"createdAt":    db.ServerTimestamp,
		"lastUpdated":  db.ServerTimestamp,
	})
	if err != nil {
		logger.ForUser(userID).WithError(err).Error("Failed to create conversation")
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	s.mu.Lock()
	if s.generation == gen {
		if _, ok := s.conversations[id]; !ok {
			now := time.Now().UTC()
			s.conversations[id] = db.Conversation{
				ID:          id,
				Title:       title,
				Type:        t,
				Messages:    []db.Message{},
				CreatedAt:   now,
				LastUpdated: now,
			}
			s.order = append(s.order, id)
			s.sortLocked()
		}
		if s.currentID == "" {
			s.currentID = id
		}
	}
	s.mu.Unlock()

	logger.ForUser(userID).WithFields(logrus.Fields{
		"conversation_id": id,
		"type":            t,
	}).Info("Conversation created")
	return id, nil
}

// List returns the conversations, most recently updated first
func (s *ConversationService) List() []db.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]db.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneConversation(s.conversations[id]))
	}
	return out
}

func (s *ConversationService) Get(id string) (db.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return db.Conversation{}, false
	}
	return cloneConversation(conv), true
}

// CurrentID returns "" when no conversation is current
func (s *ConversationService) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

func (s *ConversationService) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || !s.identity.Authenticated() {
		return ErrStorePreconditionNotMet
	}
	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	s.currentID = id
	return nil
}

// AppendMessage adds msg to the end of the conversation. The message list is
// rebuilt from the local cache and written back whole, so appends from another
// session writing the same conversation at the same time can be lost.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID string, msg db.Message) error {
	collection, userID, gen, err := s.session()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrStorePreconditionNotMet
	}
	previous, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		logger.ForUser(userID).WithField("conversation_id", conversationID).Error("Conversation not found for update")
		return ErrConversationNotFound
	}

	updated := cloneConversation(previous)
	updated.Messages = append(updated.Messages, msg)
	if len(previous.Messages) == 0 && msg.Sender == db.SenderUser {
		updated.Title = DeriveTitle(msg.Text)
	}
	updated.Revision = previous.Revision + 1
	updated.LastUpdated = time.Now().UTC()
	s.conversations[conversationID] = updated
	s.sortLocked()
	s.mu.Unlock()

	err = s.store.Merge(ctx, collection, conversationID, map[string]any{
		"messages":    updated.Messages,
		"title":       updated.Title,
		"revision":    updated.Revision,
		"lastUpdated": db.ServerTimestamp,
	})
	if err != nil {
		s.mu.Lock()
		if cached, ok := s.conversations[conversationID]; ok && s.generation == gen && cached.Revision == updated.Revision {
			s.conversations[conversationID] = previous
			s.sortLocked()
		}
		s.mu.Unlock()

		logger.ForUser(userID).WithError(err).WithField("conversation_id", conversationID).Error("Failed to update chat history")
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// DeleteConversation removes the document. The cached view changes when the
// subscription reports the removal.
func (s *ConversationService) DeleteConversation(ctx context.Context, id string) error {
	collection, userID, _, err := s.session()
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, collection, id); err != nil {
		logger.ForUser(userID).WithError(err).WithField("conversation_id", id).Error("Failed to delete conversation")
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	logger.ForUser(userID).WithField("conversation_id", id).Info("Conversation deleted")
	return nil
}

// SetSystemPrompt sets or clears (nil) the conversation's system prompt without touching its messages
func (s *ConversationService) SetSystemPrompt(ctx context.Context, conversationID string, prompt *string) error {
	collection, userID, gen, err := s.session()
	if err != nil {
		return err
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if ok && s.generation == gen {
		conv.SystemPrompt = prompt
		s.conversations[conversationID] = conv
	}
	s.mu.Unlock()
	if !ok {
		return ErrConversationNotFound
	}

	var value any
	if prompt != nil {
		value = *prompt
	}
	if err := s.store.Merge(ctx, collection, conversationID, map[string]any{
		"systemPrompt": value,
		"lastUpdated":  db.ServerTimestamp,
	}); err != nil {
		logger.ForUser(userID).WithError(err).WithField("conversation_id", conversationID).Error("Failed to update system prompt")
		return fmt.Errorf("failed to update system prompt: %w", err)
	}
	return nil
}

func cloneConversation(c db.Conversation) db.Conversation {
	c.Messages = slices.Clone(c.Messages)
	if c.Messages == nil {
		c.Messages = []db.Message{}
	}
	if c.SystemPrompt != nil {
		p := *c.SystemPrompt
		c.SystemPrompt = &p
	}
	return c
}
