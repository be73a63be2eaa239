package validation

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"mcp-chat/internal/repository/db"
)

const (
	MaxMessageLength      = 32000
	MaxModelIDLength      = 128
	MaxSystemPromptLength = 8000
)

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:/-]+$`)

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct{}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// ValidateMessage rejects blank and oversized messages
func (v *ChatRequestValidator) ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("message cannot be empty")
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageLength {
		return fmt.Errorf("message must be at most %d characters long, got %d", MaxMessageLength, n)
	}
	return nil
}

// ValidateModelID validates a model id. An empty id selects the default model.
func (v *ChatRequestValidator) ValidateModelID(modelID string) error {
	if modelID == "" {
		return nil
	}
	if len(modelID) > MaxModelIDLength {
		return fmt.Errorf("model must be at most %d characters long, got %d", MaxModelIDLength, len(modelID))
	}
	if !modelIDPattern.MatchString(modelID) {
		return fmt.Errorf("invalid model id: %s", modelID)
	}
	return nil
}

// ValidateSystemPrompt accepts nil, which clears the prompt
func (v *ChatRequestValidator) ValidateSystemPrompt(prompt *string) error {
	if prompt == nil {
		return nil
	}
	if n := utf8.RuneCountInString(*prompt); n > MaxSystemPromptLength {
		return fmt.Errorf("system prompt must be at most %d characters long, got %d", MaxSystemPromptLength, n)
	}
	return nil
}

// ValidateConversationType accepts the known types; empty means chat
func (v *ChatRequestValidator) ValidateConversationType(t db.ConversationType) error {
	switch t {
	case "", db.ConversationChat, db.ConversationTool, db.ConversationAgent:
		return nil
	}
	return fmt.Errorf("type must be one of: chat, tool, agent; got %s", t)
}

// ValidateConnectorIDs checks every id against the known catalog
func (v *ChatRequestValidator) ValidateConnectorIDs(ids, known []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !slices.Contains(known, id) {
			return fmt.Errorf("unknown connector: %s", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate connector: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateChatRequest validates a complete chat request
func (v *ChatRequestValidator) ValidateChatRequest(message, modelID string) error {
	if err := v.ValidateMessage(message); err != nil {
		return err
	}

	if err := v.ValidateModelID(modelID); err != nil {
		return err
	}

	return nil
}
