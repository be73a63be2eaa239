package handlers

import (
	"net/http"

	"mcp-chat/internal/auth"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/service/session"
)

type SessionResponse struct {
	Token   string      `json:"token"`
	UserID  string      `json:"userId"`
	Status  auth.Status `json:"status"`
	Profile db.Profile  `json:"profile"`
}

// SessionHandlers signs users in and out
type SessionHandlers struct {
	authenticator *auth.Authenticator
	manager       *session.Manager
}

// NewSessionHandlers creates a new SessionHandlers
func NewSessionHandlers(authenticator *auth.Authenticator, manager *session.Manager) *SessionHandlers {
	return &SessionHandlers{authenticator: authenticator, manager: manager}
}

// StartSessionHandler signs in, anonymously unless a valid token is presented,
// and starts the user's session.
func (sh *SessionHandlers) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	identity, token, err := sh.authenticator.SignIn(auth.BearerToken(r))
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Error signing in", err)
		return
	}

	state, err := sh.manager.Start(r.Context(), identity)
	if err != nil {
		sendServiceError(w, "Error starting session", err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Token:   token,
		UserID:  identity.UserID,
		Status:  identity.Status,
		Profile: redactProfile(state.Profile()),
	})
}

// EndSessionHandler tears down the caller's session
func (sh *SessionHandlers) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	sh.manager.End(identity.UserID)
	w.WriteHeader(http.StatusNoContent)
}
