package handlers

import (
	"net/http"
	"time"

	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/service/chat"
	"mcp-chat/internal/service/power"
	"mcp-chat/pkg/validation"

	"github.com/sirupsen/logrus"
)

// Request/Response types

type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type ChatResponse struct {
	ConversationID string             `json:"conversationId"`
	UserMessage    db.Message         `json:"userMessage"`
	Reply          db.Message         `json:"reply"`
	PowerUsed      power.CapabilityID `json:"powerUsed,omitempty"`
	Powers         []power.Balance    `json:"powers"`
}

type ChatStatusResponse struct {
	Loading bool `json:"loading"`
}

type ConversationInfo struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Type         db.ConversationType `json:"type"`
	SystemPrompt *string             `json:"systemPrompt"`
	MessageCount int                 `json:"messageCount"`
	CreatedAt    time.Time           `json:"createdAt"`
	LastUpdated  time.Time           `json:"lastUpdated"`
}

type ConversationsResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
	CurrentID     string             `json:"currentId"`
}

type CreateConversationRequest struct {
	Type  db.ConversationType `json:"type,omitempty"`
	Title string              `json:"title,omitempty"`
}

type SystemPromptRequest struct {
	SystemPrompt *string `json:"systemPrompt"`
}

// ChatHandlers serves sends and the conversation list of the caller's session
type ChatHandlers struct {
	validator *validation.ChatRequestValidator
}

// NewChatHandlers creates a new ChatHandlers
func NewChatHandlers() *ChatHandlers {
	return &ChatHandlers{
		validator: validation.NewChatRequestValidator(),
	}
}

// ChatHandler sends a message to the current conversation
func (ch *ChatHandlers) ChatHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.validator.ValidateChatRequest(req.Message, req.Model); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	logger.ForUser(state.Identity().UserID).WithFields(logrus.Fields{
		"message_chars": len(req.Message),
		"model":         req.Model,
	}).Info("Chat request received")

	resp, err := state.Chat.SendMessage(r.Context(), chat.SendMessageRequest{
		Message: req.Message,
		Model:   req.Model,
	})
	if err != nil {
		sendServiceError(w, "Error processing message", err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		ConversationID: resp.ConversationID,
		UserMessage:    resp.UserMessage,
		Reply:          resp.Reply,
		PowerUsed:      resp.PowerUsed,
		Powers:         state.Ledger.Snapshot(),
	})
}

// ChatStatusHandler reports whether a send is in flight
func (ch *ChatHandlers) ChatStatusHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, ChatStatusResponse{Loading: state.Chat.IsLoading()})
}

// GetConversationsHandler returns the conversations, most recently updated first
func (ch *ChatHandlers) GetConversationsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	conversations := state.Conversations.List()
	infos := make([]ConversationInfo, 0, len(conversations))
	for _, conv := range conversations {
		infos = append(infos, ConversationInfo{
			ID:           conv.ID,
			Title:        conv.Title,
			Type:         conv.Type,
			SystemPrompt: conv.SystemPrompt,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			LastUpdated:  conv.LastUpdated,
		})
	}

	writeJSON(w, http.StatusOK, ConversationsResponse{
		Conversations: infos,
		CurrentID:     state.Conversations.CurrentID(),
	})
}

// CreateConversationHandler creates a conversation and makes it current
func (ch *ChatHandlers) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := ch.validator.ValidateConversationType(req.Type); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	id, err := state.Conversations.CreateConversation(r.Context(), req.Type, req.Title)
	if err != nil {
		sendServiceError(w, "Error creating conversation", err)
		return
	}
	if err := state.Conversations.Select(id); err != nil {
		logger.ForUser(state.Identity().UserID).WithError(err).WithField("conversation_id", id).Warn("New conversation not yet visible")
	}

	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// GetConversationHandler returns one conversation with its messages
func (ch *ChatHandlers) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	conv, ok := state.Conversations.Get(r.PathValue("id"))
	if !ok {
		sendError(w, http.StatusNotFound, "Conversation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// DeleteConversationHandler deletes a conversation
func (ch *ChatHandlers) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	convID := r.PathValue("id")

	logger.ForUser(state.Identity().UserID).WithField("conversation_id", convID).Info("Delete conversation request")

	if err := state.Conversations.DeleteConversation(r.Context(), convID); err != nil {
		sendServiceError(w, "Error deleting conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Conversation deleted successfully",
	})
}

// SelectConversationHandler makes a conversation current
func (ch *ChatHandlers) SelectConversationHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	if err := state.Conversations.Select(r.PathValue("id")); err != nil {
		sendServiceError(w, "Error selecting conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetSystemPromptHandler sets or clears a conversation's system prompt
func (ch *ChatHandlers) SetSystemPromptHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req SystemPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := ch.validator.ValidateSystemPrompt(req.SystemPrompt); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	if err := state.Conversations.SetSystemPrompt(r.Context(), r.PathValue("id"), req.SystemPrompt); err != nil {
		sendServiceError(w, "Error updating system prompt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
