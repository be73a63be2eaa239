package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"

	"github.com/sirupsen/logrus"
)

var ErrItemNotFound = errors.New("item not found")

// ProfileUpdate is the editable part of the profile
type ProfileUpdate struct {
	DisplayName     string
	OpenAIConfig    db.BackendCredentials
	AnthropicConfig db.BackendCredentials
}

// SaveProfile trims and stores the profile. API keys are sealed when a
// credentials key is configured.
func (s *State) SaveProfile(ctx context.Context, update ProfileUpdate) error {
	if err := s.ready(); err != nil {
		return err
	}

	openaiKey, err := s.sealer.Seal(strings.TrimSpace(update.OpenAIConfig.APIKey))
	if err != nil {
		return fmt.Errorf("failed to seal openai key: %w", err)
	}
	anthropicKey, err := s.sealer.Seal(strings.TrimSpace(update.AnthropicConfig.APIKey))
	if err != nil {
		return fmt.Errorf("failed to seal anthropic key: %w", err)
	}

	err = s.store.Merge(ctx, s.path(db.CollectionProfile), db.ProfileDocumentID, map[string]any{
		"displayName": strings.TrimSpace(update.DisplayName),
		"openaiConfig": map[string]any{
			"apiKey":  openaiKey,
			"baseUrl": strings.TrimSpace(update.OpenAIConfig.BaseURL),
		},
		"anthropicConfig": map[string]any{
			"apiKey":  anthropicKey,
			"baseUrl": strings.TrimSpace(update.AnthropicConfig.BaseURL),
		},
		"lastUpdated": db.ServerTimestamp,
	})
	if err != nil {
		return s.logFailure(err, "Failed to save profile", nil)
	}

	logger.ForUser(s.identity.UserID).Info("Profile saved")
	return nil
}

// AddTool stores a tool definition and returns its id
func (s *State) AddTool(ctx context.Context, tool db.Tool) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if tool.Status == "" {
		tool.Status = db.StatusActive
	}

	id, err := s.store.Create(ctx, s.path(db.CollectionTools), map[string]any{
		"name":        tool.Name,
		"description": tool.Description,
		"status":      tool.Status,
		"createdAt":   db.ServerTimestamp,
		"lastUpdated": db.ServerTimestamp,
	})
	if err != nil {
		return "", s.logFailure(err, "Failed to add tool", logrus.Fields{"name": tool.Name})
	}

	logger.ForUser(s.identity.UserID).WithFields(logrus.Fields{"tool_id": id, "name": tool.Name}).Info("Tool added")
	return id, nil
}

func (s *State) SetToolStatus(ctx context.Context, id, status string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.hasTool(id) {
		return ErrItemNotFound
	}

	if err := s.store.Merge(ctx, s.path(db.CollectionTools), id, map[string]any{
		"status":      status,
		"lastUpdated": db.ServerTimestamp,
	}); err != nil {
		return s.logFailure(err, "Failed to update tool status", logrus.Fields{"tool_id": id})
	}
	return nil
}

func (s *State) DeleteTool(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.hasTool(id) {
		return ErrItemNotFound
	}
	return s.deleteDocument(ctx, db.CollectionTools, id)
}

// AddAgent stores an agent definition and returns its id
func (s *State) AddAgent(ctx context.Context, agent db.Agent) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if agent.Status == "" {
		agent.Status = db.StatusActive
	}
	toolIDs := agent.ToolIDs
	if toolIDs == nil {
		toolIDs = []string{}
	}

	id, err := s.store.Create(ctx, s.path(db.CollectionAgents), map[string]any{
		"name":             agent.Name,
		"professionPrompt": agent.ProfessionPrompt,
		"toolIds":          toolIDs,
		"status":           agent.Status,
		"createdAt":        db.ServerTimestamp,
		"lastUpdated":      db.ServerTimestamp,
	})
	if err != nil {
		return "", s.logFailure(err, "Failed to add agent", logrus.Fields{"name": agent.Name})
	}

	logger.ForUser(s.identity.UserID).WithFields(logrus.Fields{"agent_id": id, "name": agent.Name}).Info("Agent added")
	return id, nil
}

func (s *State) SetAgentStatus(ctx context.Context, id, status string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.hasAgent(id) {
		return ErrItemNotFound
	}

	if err := s.store.Merge(ctx, s.path(db.CollectionAgents), id, map[string]any{
		"status":      status,
		"lastUpdated": db.ServerTimestamp,
	}); err != nil {
		return s.logFailure(err, "Failed to update agent status", logrus.Fields{"agent_id": id})
	}
	return nil
}

func (s *State) DeleteAgent(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.hasAgent(id) {
		return ErrItemNotFound
	}
	return s.deleteDocument(ctx, db.CollectionAgents, id)
}

// SelectActiveAgent makes id the active agent, or clears it when id is
// already active. It returns the new active id, nil when none.
func (s *State) SelectActiveAgent(ctx context.Context, id string) (*string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !s.hasAgent(id) {
		return nil, ErrItemNotFound
	}

	s.mu.RLock()
	current := s.profile.ActiveAgentID
	s.mu.RUnlock()

	var next *string
	if current == nil || *current != id {
		next = &id
	}

	var value any
	if next != nil {
		value = *next
	}
	if err := s.store.Merge(ctx, s.path(db.CollectionProfile), db.ProfileDocumentID, map[string]any{
		"activeAgentId": value,
		"lastUpdated":   db.ServerTimestamp,
	}); err != nil {
		return nil, s.logFailure(err, "Failed to select active agent", logrus.Fields{"agent_id": id})
	}

	s.mu.Lock()
	s.profile.ActiveAgentID = next
	s.mu.Unlock()

	logger.ForUser(s.identity.UserID).WithField("active_agent_id", value).Info("Active agent updated")
	return next, nil
}

// AddCustomModel registers an OpenAI-compatible endpoint. The selection id is
// derived from the registration time.
func (s *State) AddCustomModel(ctx context.Context, name, baseURL string) (db.CustomModel, error) {
	if err := s.ready(); err != nil {
		return db.CustomModel{}, err
	}

	model := db.CustomModel{
		ModelID: fmt.Sprintf("custom-api-%d", time.Now().UnixMilli()),
		Name:    strings.TrimSpace(name),
		BaseURL: strings.TrimSpace(baseURL),
	}
	id, err := s.store.Create(ctx, s.path(db.CollectionCustomModels), map[string]any{
		"id":        model.ModelID,
		"name":      model.Name,
		"type":      "Custom",
		"baseUrl":   model.BaseURL,
		"createdAt": db.ServerTimestamp,
	})
	if err != nil {
		return db.CustomModel{}, s.logFailure(err, "Failed to add custom model", logrus.Fields{"name": model.Name})
	}
	model.ID = id

	logger.ForUser(s.identity.UserID).WithFields(logrus.Fields{
		"model_id": model.ModelID,
		"name":     model.Name,
	}).Info("Custom model added")
	return model, nil
}

// DeleteCustomModel accepts either the selection id or the document id
func (s *State) DeleteCustomModel(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	docID := ""
	for _, m := range s.CustomModels() {
		if m.ModelID == id || m.ID == id {
			docID = m.ID
			break
		}
	}
	if docID == "" {
		return ErrItemNotFound
	}
	return s.deleteDocument(ctx, db.CollectionCustomModels, docID)
}

func (s *State) AddContextPill(ctx context.Context, label, prompt string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	id, err := s.store.Create(ctx, s.path(db.CollectionContextPills), map[string]any{
		"label":     label,
		"prompt":    prompt,
		"createdAt": db.ServerTimestamp,
	})
	if err != nil {
		return "", s.logFailure(err, "Failed to add context pill", logrus.Fields{"label": label})
	}
	return id, nil
}

func (s *State) DeleteContextPill(ctx context.Context, id string) error {
	return s.deleteDocument(ctx, db.CollectionContextPills, id)
}

func (s *State) AddCustomPrompt(ctx context.Context, text string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	id, err := s.store.Create(ctx, s.path(db.CollectionCustomPrompts), map[string]any{
		"text":      text,
		"createdAt": db.ServerTimestamp,
	})
	if err != nil {
		return "", s.logFailure(err, "Failed to add custom prompt", nil)
	}
	return id, nil
}

// DeleteCustomPrompt removes every saved prompt with exactly this text
func (s *State) DeleteCustomPrompt(ctx context.Context, text string) (int, error) {
	return s.deleteWhere(ctx, db.CollectionCustomPrompts, "text", text)
}

func (s *State) AddMCPServer(ctx context.Context, url string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	id, err := s.store.Create(ctx, s.path(db.CollectionMCPServers), map[string]any{
		"url":       url,
		"createdAt": db.ServerTimestamp,
	})
	if err != nil {
		return "", s.logFailure(err, "Failed to add MCP server", logrus.Fields{"url": url})
	}
	return id, nil
}

// RemoveMCPServer removes every registration of url
func (s *State) RemoveMCPServer(ctx context.Context, url string) (int, error) {
	return s.deleteWhere(ctx, db.CollectionMCPServers, "url", url)
}

func (s *State) deleteDocument(ctx context.Context, collection, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, s.path(collection), id); err != nil {
		return s.logFailure(err, "Failed to delete document", logrus.Fields{"collection": collection, "document_id": id})
	}

	logger.ForUser(s.identity.UserID).WithFields(logrus.Fields{
		"collection":  collection,
		"document_id": id,
	}).Info("Document deleted")
	return nil
}

// deleteWhere deletes the documents whose string field equals value
func (s *State) deleteWhere(ctx context.Context, collection, field, value string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	docs, err := s.store.List(ctx, s.path(collection), db.Query{})
	if err != nil {
		return 0, s.logFailure(err, "Failed to list documents", logrus.Fields{"collection": collection})
	}

	deleted := 0
	for _, doc := range docs {
		if v, ok := doc.Fields[field].(string); !ok || v != value {
			continue
		}
		if err := s.store.Delete(ctx, s.path(collection), doc.ID); err != nil {
			return deleted, s.logFailure(err, "Failed to delete document", logrus.Fields{"collection": collection, "document_id": doc.ID})
		}
		deleted++
	}
	return deleted, nil
}

func (s *State) hasTool(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *State) hasAgent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.ID == id {
			return true
		}
	}
	return false
}

func (s *State) logFailure(err error, msg string, fields logrus.Fields) error {
	logger.ForUser(s.identity.UserID).WithError(err).WithFields(fields).Error(msg)
	return fmt.Errorf("%s: %w", strings.ToLower(msg[:1])+msg[1:], err)
}
