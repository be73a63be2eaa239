package handlers

import (
	"net/http"

	"mcp-chat/internal/app"
	"mcp-chat/internal/auth"
	"mcp-chat/internal/service/session"
)

// NewRouter registers every API route. Routes other than sign-in and health
// run inside the caller's session.
func NewRouter(cfg *app.Config, manager *session.Manager, authenticator *auth.Authenticator) http.Handler {
	sessionHandlers := NewSessionHandlers(authenticator, manager)
	chatHandlers := NewChatHandlers()
	workspaceHandlers := NewWorkspaceHandlers(cfg.ModelsConfig().GetDefaultModel())

	protected := RequireSession(authenticator, manager)
	limiter := NewRateLimiter(cfg.AppConfig.RateLimit)

	// Go 1.22+ method and path-parameter patterns
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("POST /api/session", sessionHandlers.StartSessionHandler)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("DELETE /api/session", authenticator.Middleware(sessionHandlers.EndSessionHandler))

	// Chat and conversations
	mux.HandleFunc("POST /api/chat", protected(limiter.Limit(chatHandlers.ChatHandler)))
	mux.HandleFunc("GET /api/chat/status", protected(chatHandlers.ChatStatusHandler))
	mux.HandleFunc("GET /api/conversations", protected(chatHandlers.GetConversationsHandler))
	mux.HandleFunc("POST /api/conversations", protected(chatHandlers.CreateConversationHandler))
	mux.HandleFunc("GET /api/conversations/{id}", protected(chatHandlers.GetConversationHandler))
	mux.HandleFunc("DELETE /api/conversations/{id}", protected(chatHandlers.DeleteConversationHandler))
	mux.HandleFunc("PUT /api/conversations/{id}/select", protected(chatHandlers.SelectConversationHandler))
	mux.HandleFunc("PUT /api/conversations/{id}/system-prompt", protected(chatHandlers.SetSystemPromptHandler))

	// Powers, connectors, models
	mux.HandleFunc("GET /api/powers", protected(workspaceHandlers.GetPowersHandler))
	mux.HandleFunc("GET /api/connectors", protected(workspaceHandlers.GetConnectorsHandler))
	mux.HandleFunc("PUT /api/connectors", protected(workspaceHandlers.UpdateConnectorsHandler))
	mux.HandleFunc("GET /api/models", protected(workspaceHandlers.GetModelsHandler))

	// Profile
	mux.HandleFunc("GET /api/profile", protected(workspaceHandlers.GetProfileHandler))
	mux.HandleFunc("PUT /api/profile", protected(workspaceHandlers.UpdateProfileHandler))

	// Tools and agents
	mux.HandleFunc("GET /api/tools", protected(workspaceHandlers.GetToolsHandler))
	mux.HandleFunc("POST /api/tools", protected(workspaceHandlers.AddToolHandler))
	mux.HandleFunc("PUT /api/tools/{id}/status", protected(workspaceHandlers.UpdateToolStatusHandler))
	mux.HandleFunc("DELETE /api/tools/{id}", protected(workspaceHandlers.DeleteToolHandler))
	mux.HandleFunc("GET /api/agents", protected(workspaceHandlers.GetAgentsHandler))
	mux.HandleFunc("POST /api/agents", protected(workspaceHandlers.AddAgentHandler))
	mux.HandleFunc("PUT /api/agents/{id}/status", protected(workspaceHandlers.UpdateAgentStatusHandler))
	mux.HandleFunc("PUT /api/agents/{id}/activate", protected(workspaceHandlers.ActivateAgentHandler))
	mux.HandleFunc("DELETE /api/agents/{id}", protected(workspaceHandlers.DeleteAgentHandler))

	// Stored definitions
	mux.HandleFunc("GET /api/custom-models", protected(workspaceHandlers.GetCustomModelsHandler))
	mux.HandleFunc("POST /api/custom-models", protected(workspaceHandlers.AddCustomModelHandler))
	mux.HandleFunc("DELETE /api/custom-models/{id}", protected(workspaceHandlers.DeleteCustomModelHandler))
	mux.HandleFunc("GET /api/context-pills", protected(workspaceHandlers.GetContextPillsHandler))
	mux.HandleFunc("POST /api/context-pills", protected(workspaceHandlers.AddContextPillHandler))
	mux.HandleFunc("DELETE /api/context-pills/{id}", protected(workspaceHandlers.DeleteContextPillHandler))
	mux.HandleFunc("GET /api/prompts", protected(workspaceHandlers.GetPromptsHandler))
	mux.HandleFunc("POST /api/prompts", protected(workspaceHandlers.AddPromptHandler))
	mux.HandleFunc("DELETE /api/prompts", protected(workspaceHandlers.DeletePromptHandler))
	mux.HandleFunc("GET /api/mcp-servers", protected(workspaceHandlers.GetMCPServersHandler))
	mux.HandleFunc("POST /api/mcp-servers", protected(workspaceHandlers.AddMCPServerHandler))
	mux.HandleFunc("DELETE /api/mcp-servers", protected(workspaceHandlers.RemoveMCPServerHandler))

	return EnableCORS(Recover(mux))
}
