package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mcp-chat/internal/logger"
	"mcp-chat/internal/service/chat"
	"mcp-chat/internal/service/conversation"
	"mcp-chat/internal/service/session"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type CreatedResponse struct {
	ID string `json:"id"`
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	writeJSON(w, status, errResp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		// empty body leaves v at its zero value
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// sendServiceError maps service errors onto HTTP statuses
func sendServiceError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound), errors.Is(err, session.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, conversation.ErrStorePreconditionNotMet):
		status = http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNoConversation):
		status = http.StatusConflict
	}
	sendError(w, status, message, err)
}
