package handlers

import (
	"net/http"
	"strings"

	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/service/llm"
	"mcp-chat/internal/service/power"
	"mcp-chat/internal/service/session"
	"mcp-chat/pkg/validation"
)

// Request/Response types

type PowersResponse struct {
	Powers []power.Balance `json:"powers"`
}

type ConnectorsResponse struct {
	Connectors []session.Connector `json:"connectors"`
}

type UpdateConnectorsRequest struct {
	Active []string `json:"active"`
}

type ModelGroup struct {
	Family llm.Family            `json:"family"`
	Name   string                `json:"name"`
	Models []llm.ModelDescriptor `json:"models"`
}

type ModelsResponse struct {
	Groups       []ModelGroup `json:"groups"`
	DefaultModel string       `json:"defaultModel"`
}

type ProfileRequest struct {
	DisplayName     string                `json:"displayName"`
	OpenAIConfig    db.BackendCredentials `json:"openaiConfig"`
	AnthropicConfig db.BackendCredentials `json:"anthropicConfig"`
}

type ProfileResponse struct {
	Profile     db.Profile `json:"profile"`
	ActiveAgent *db.Agent  `json:"activeAgent"`
	ActiveTools []db.Tool  `json:"activeTools"`
}

type ToolRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
}

type AgentRequest struct {
	Name             string   `json:"name"`
	ProfessionPrompt string   `json:"professionPrompt"`
	ToolIDs          []string `json:"toolIds"`
	Status           string   `json:"status,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type ActiveAgentResponse struct {
	ActiveAgentID *string `json:"activeAgentId"`
}

type CustomModelRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
}

type ContextPillRequest struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

type PromptRequest struct {
	Text string `json:"text"`
}

type MCPServerRequest struct {
	URL string `json:"url"`
}

type RemovedResponse struct {
	Removed int `json:"removed"`
}

// WorkspaceHandlers serves the user's profile, powers, connectors, models and stored definitions
type WorkspaceHandlers struct {
	validator     *validation.WorkspaceRequestValidator
	chatValidator *validation.ChatRequestValidator
	defaultModel  string
}

// NewWorkspaceHandlers creates a new WorkspaceHandlers
func NewWorkspaceHandlers(defaultModel string) *WorkspaceHandlers {
	return &WorkspaceHandlers{
		validator:     validation.NewWorkspaceRequestValidator(),
		chatValidator: validation.NewChatRequestValidator(),
		defaultModel:  defaultModel,
	}
}

func (wh *WorkspaceHandlers) GetPowersHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, PowersResponse{Powers: state.Ledger.Snapshot()})
}

func (wh *WorkspaceHandlers) GetConnectorsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, ConnectorsResponse{Connectors: state.Connectors()})
}

// UpdateConnectorsHandler replaces the active connector set
func (wh *WorkspaceHandlers) UpdateConnectorsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req UpdateConnectorsRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.chatValidator.ValidateConnectorIDs(req.Active, session.ConnectorIDs()); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	if err := state.SetActiveConnectors(req.Active); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectorsResponse{Connectors: state.Connectors()})
}

// GetModelsHandler returns the selectable models grouped by family
func (wh *WorkspaceHandlers) GetModelsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	families := []llm.Family{llm.FamilyDefault, llm.FamilyOpenAI, llm.FamilyAnthropic, llm.FamilyCustom}
	byFamily := make(map[llm.Family][]llm.ModelDescriptor, len(families))
	for _, m := range state.Models.Models() {
		byFamily[m.Family] = append(byFamily[m.Family], m)
	}

	groups := make([]ModelGroup, 0, len(families))
	for _, f := range families {
		if len(byFamily[f]) == 0 {
			continue
		}
		groups = append(groups, ModelGroup{Family: f, Name: f.DisplayName(), Models: byFamily[f]})
	}

	writeJSON(w, http.StatusOK, ModelsResponse{Groups: groups, DefaultModel: wh.defaultModel})
}

func (wh *WorkspaceHandlers) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, profileResponse(state))
}

// UpdateProfileHandler saves the display name and backend credentials. A key
// sent back in its redacted form keeps the stored key.
func (wh *WorkspaceHandlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateProfile(req.DisplayName, req.OpenAIConfig.BaseURL, req.AnthropicConfig.BaseURL); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	current := state.Profile()
	if req.OpenAIConfig.APIKey == redactKey(current.OpenAIConfig.APIKey) {
		req.OpenAIConfig.APIKey = current.OpenAIConfig.APIKey
	}
	if req.AnthropicConfig.APIKey == redactKey(current.AnthropicConfig.APIKey) {
		req.AnthropicConfig.APIKey = current.AnthropicConfig.APIKey
	}

	if err := state.SaveProfile(r.Context(), session.ProfileUpdate{
		DisplayName:     req.DisplayName,
		OpenAIConfig:    req.OpenAIConfig,
		AnthropicConfig: req.AnthropicConfig,
	}); err != nil {
		sendServiceError(w, "Error saving profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(state))
}

func (wh *WorkspaceHandlers) GetToolsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string][]db.Tool{"tools": state.Tools()})
}

func (wh *WorkspaceHandlers) AddToolHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req ToolRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateTool(req.Name, req.Status); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	id, err := state.AddTool(r.Context(), db.Tool{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		sendServiceError(w, "Error adding tool", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (wh *WorkspaceHandlers) UpdateToolStatusHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateStatus(req.Status); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	if err := state.SetToolStatus(r.Context(), r.PathValue("id"), req.Status); err != nil {
		sendServiceError(w, "Error updating tool", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (wh *WorkspaceHandlers) DeleteToolHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	if err := state.DeleteTool(r.Context(), r.PathValue("id")); err != nil {
		sendServiceError(w, "Error deleting tool", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "Tool deleted successfully"})
}

func (wh *WorkspaceHandlers) GetAgentsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string][]db.Agent{"agents": state.Agents()})
}

func (wh *WorkspaceHandlers) AddAgentHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req AgentRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateAgent(req.Name, req.ProfessionPrompt, req.Status); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	id, err := state.AddAgent(r.Context(), db.Agent{
		Name:             strings.TrimSpace(req.Name),
		ProfessionPrompt: req.ProfessionPrompt,
		ToolIDs:          req.ToolIDs,
		Status:           req.Status,
	})
	if err != nil {
		sendServiceError(w, "Error adding agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (wh *WorkspaceHandlers) UpdateAgentStatusHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateStatus(req.Status); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	if err := state.SetAgentStatus(r.Context(), r.PathValue("id"), req.Status); err != nil {
		sendServiceError(w, "Error updating agent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (wh *WorkspaceHandlers) DeleteAgentHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	if err := state.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		sendServiceError(w, "Error deleting agent", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "Agent deleted successfully"})
}

// ActivateAgentHandler toggles the active agent
func (wh *WorkspaceHandlers) ActivateAgentHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	active, err := state.SelectActiveAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		sendServiceError(w, "Error selecting agent", err)
		return
	}
	writeJSON(w, http.StatusOK, ActiveAgentResponse{ActiveAgentID: active})
}

func (wh *WorkspaceHandlers) GetCustomModelsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string][]db.CustomModel{"customModels": state.CustomModels()})
}

func (wh *WorkspaceHandlers) AddCustomModelHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req CustomModelRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateCustomModel(req.Name, req.BaseURL); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	model, err := state.AddCustomModel(r.Context(), req.Name, req.BaseURL)
	if err != nil {
		sendServiceError(w, "Error adding custom model", err)
		return
	}
	writeJSON(w, http.StatusCreated, model)
}

func (wh *WorkspaceHandlers) DeleteCustomModelHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	if err := state.DeleteCustomModel(r.Context(), r.PathValue("id")); err != nil {
		sendServiceError(w, "Error deleting custom model", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "Custom model deleted successfully"})
}

func (wh *WorkspaceHandlers) GetContextPillsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string][]db.ContextPill{"contextPills": state.ContextPills()})
}

func (wh *WorkspaceHandlers) AddContextPillHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req ContextPillRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateName("label", req.Label); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	if err := wh.validator.ValidatePrompt("prompt", req.Prompt); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	id, err := state.AddContextPill(r.Context(), strings.TrimSpace(req.Label), req.Prompt)
	if err != nil {
		sendServiceError(w, "Error adding context pill", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (wh *WorkspaceHandlers) DeleteContextPillHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	if err := state.DeleteContextPill(r.Context(), r.PathValue("id")); err != nil {
		sendServiceError(w, "Error deleting context pill", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "Context pill deleted successfully"})
}

func (wh *WorkspaceHandlers) GetPromptsHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string][]db.CustomPrompt{"prompts": state.CustomPrompts()})
}

func (wh *WorkspaceHandlers) AddPromptHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req PromptRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidatePrompt("prompt", req.Text); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	id, err := state.AddCustomPrompt(r.Context(), req.Text)
	if err != nil {
		sendServiceError(w, "Error adding prompt", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// DeletePromptHandler deletes saved prompts by their text (?text=)
func (wh *WorkspaceHandlers) DeletePromptHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	text := r.URL.Query().Get("text")
	if err := wh.validator.ValidatePrompt("text", text); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	n, err := state.DeleteCustomPrompt(r.Context(), text)
	if err != nil {
		sendServiceError(w, "Error deleting prompt", err)
		return
	}
	writeJSON(w, http.StatusOK, RemovedResponse{Removed: n})
}

func (wh *WorkspaceHandlers) GetMCPServersHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string][]db.MCPServer{"servers": state.MCPServers()})
}

func (wh *WorkspaceHandlers) AddMCPServerHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	var req MCPServerRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wh.validator.ValidateURL("url", req.URL); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	id, err := state.AddMCPServer(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		sendServiceError(w, "Error adding MCP server", err)
		return
	}
	logger.ForUser(state.Identity().UserID).WithField("url", req.URL).Info("MCP server registered")
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// RemoveMCPServerHandler removes registrations by URL (?url=)
func (wh *WorkspaceHandlers) RemoveMCPServerHandler(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())

	n, err := state.RemoveMCPServer(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		sendServiceError(w, "Error removing MCP server", err)
		return
	}
	writeJSON(w, http.StatusOK, RemovedResponse{Removed: n})
}

func profileResponse(state *session.State) ProfileResponse {
	resp := ProfileResponse{
		Profile:     redactProfile(state.Profile()),
		ActiveTools: state.ActiveTools(),
	}
	if agent, ok := state.ActiveAgent(); ok {
		resp.ActiveAgent = &agent
	}
	return resp
}

// redactProfile hides API keys except for their last characters
func redactProfile(p db.Profile) db.Profile {
	p.OpenAIConfig.APIKey = redactKey(p.OpenAIConfig.APIKey)
	p.AnthropicConfig.APIKey = redactKey(p.AnthropicConfig.APIKey)
	return p
}

func redactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
