package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mcp-chat/internal/auth"
	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/service/conversation"
	"mcp-chat/internal/service/llm"
	"mcp-chat/internal/service/power"

	"github.com/sirupsen/logrus"
)

// timestampLayout is the display time stored on messages
const timestampLayout = "15:04"

var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrNoConversation = errors.New("no current conversation")
)

// ConversationStore is the part of the conversation service the dispatcher writes to
type ConversationStore interface {
	CurrentID() string
	Get(id string) (db.Conversation, bool)
	AppendMessage(ctx context.Context, conversationID string, msg db.Message) error
}

// PowerRouter handles slash-commands
type PowerRouter interface {
	Match(message string) (power.Capability, bool)
	Execute(ctx context.Context, c power.Capability) (string, error)
}

// ModelRegistry dispatches to model backends
type ModelRegistry interface {
	Attempt(ctx context.Context, modelID, message, systemPrompt string, creds llm.Credentials) (string, error)
}

// SessionContext exposes the session state a send depends on
type SessionContext interface {
	Identity() auth.Identity
	Credentials() llm.Credentials
	ActiveConnectorNames() []string
	ActiveAgent() (db.Agent, bool)
}

// Dependencies groups the collaborators of a ChatService
type Dependencies struct {
	Conversations ConversationStore
	Router        PowerRouter
	Models        ModelRegistry
	Session       SessionContext
	// DefaultModel is used when a request names no model
	DefaultModel string
}

// SendMessageRequest contains the parameters of one send
type SendMessageRequest struct {
	Message string
	Model   string
}

// SendMessageResponse describes what a send appended
type SendMessageResponse struct {
	ConversationID string
	UserMessage    db.Message
	Reply          db.Message
	PowerUsed      power.CapabilityID
}

// ChatService turns a submitted message into a user message and exactly one
// assistant reply in the conversation that was current at submission.
type ChatService struct {
	conversations ConversationStore
	router        PowerRouter
	models        ModelRegistry
	session       SessionContext
	defaultModel  string
	now           func() time.Time

	inflight atomic.Int32
}

// NewChatService creates a new ChatService
func NewChatService(deps Dependencies) *ChatService {
	return &ChatService{
		conversations: deps.Conversations,
		router:        deps.Router,
		models:        deps.Models,
		session:       deps.Session,
		defaultModel:  deps.DefaultModel,
		now:           time.Now,
	}
}

// IsLoading reports whether any send is in flight
func (s *ChatService) IsLoading() bool {
	return s.inflight.Load() > 0
}

// SendMessage appends the user's message, dispatches it to a power or a model
// and appends the reply. Dispatch failures become error replies and are not
// returned; only precondition and reply persistence failures are.
func (s *ChatService) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	identity := s.session.Identity()
	if !identity.Authenticated() {
		return nil, conversation.ErrStorePreconditionNotMet
	}
	conversationID := s.conversations.CurrentID()
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	if req.Model == "" {
		req.Model = s.defaultModel
	}

	// the send outlives the caller; the registry timeout still bounds the model call
	sendCtx := context.WithoutCancel(ctx)

	log := logger.ForUser(identity.UserID).WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"model":           req.Model,
	})

	submitted := s.now()
	userMessage := db.Message{
		ID:        submitted.UnixMilli(),
		Text:      req.Message,
		Sender:    db.SenderUser,
		Timestamp: submitted.Format(timestampLayout),
	}
	if err := s.conversations.AppendMessage(sendCtx, conversationID, userMessage); err != nil {
		log.WithError(err).Warn("Failed to save user message, continuing")
	}

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	text, powerUsed, err := s.dispatch(sendCtx, conversationID, req)

	reply := db.Message{
		ID:        userMessage.ID + 1,
		Sender:    db.SenderAssistant,
		Timestamp: s.now().Format(timestampLayout),
	}
	if err != nil {
		log.WithError(err).Error("Failed to generate response")
		reply.Text = fmt.Sprintf("An error occurred: %s", err)
		reply.IsError = true

		var shape *llm.UnexpectedResponseShapeError
		if errors.As(err, &shape) {
			reply.Text = text
		}
	} else {
		reply.Text = text
		reply.Model = req.Model
	}

	if err := s.conversations.AppendMessage(sendCtx, conversationID, reply); err != nil {
		log.WithError(err).Error("Failed to save assistant message")
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	log.WithFields(logrus.Fields{
		"power":    powerUsed,
		"is_error": reply.IsError,
	}).Info("Message dispatched")

	return &SendMessageResponse{
		ConversationID: conversationID,
		UserMessage:    userMessage,
		Reply:          reply,
		PowerUsed:      powerUsed,
	}, nil
}

// dispatch returns the reply text with its trailer. For an unexpected response
// shape it returns the fallback text together with the error.
func (s *ChatService) dispatch(ctx context.Context, conversationID string, req SendMessageRequest) (string, power.CapabilityID, error) {
	systemPrompt := s.systemPrompt(conversationID)
	connectors := s.session.ActiveConnectorNames()

	if c, ok := s.router.Match(req.Message); ok {
		text, err := s.router.Execute(ctx, c)
		if err != nil {
			return "", "", err
		}
		return text + llm.Trailer(connectors, systemPrompt, true), c.ID, nil
	}

	text, err := s.models.Attempt(ctx, req.Model, req.Message, systemPrompt, s.session.Credentials())
	if err != nil {
		var shape *llm.UnexpectedResponseShapeError
		if errors.As(err, &shape) {
			return shape.Fallback + llm.Trailer(connectors, systemPrompt, false), "", err
		}
		return "", "", err
	}
	return text + llm.Trailer(connectors, systemPrompt, false), "", nil
}

// systemPrompt prefers the active agent's profession prompt over the conversation's own
func (s *ChatService) systemPrompt(conversationID string) string {
	if agent, ok := s.session.ActiveAgent(); ok && agent.ProfessionPrompt != "" {
		return agent.ProfessionPrompt
	}
	if conv, ok := s.conversations.Get(conversationID); ok && conv.SystemPrompt != nil {
		return *conv.SystemPrompt
	}
	return ""
}
