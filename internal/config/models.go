package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// FallbackModelID is used when the catalog is empty
const FallbackModelID = "gemini-2.0-flash"

// Model is an entry of the built-in model catalog.
// Provider is the group label shown in the model picker.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// ModelsConfig holds the available models configuration
type ModelsConfig struct {
	models []Model
}

// NewModelsConfig creates a new models configuration from a file
func NewModelsConfig(configPath string) (*ModelsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var models []Model
	err = json.Unmarshal(data, &models)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model at index %d has no id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
	}

	return &ModelsConfig{models: models}, nil
}

// DefaultModelsConfig returns the built-in catalog. The first entry is the default model.
func DefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{models: []Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: "Google"},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Provider: "Google"},
		{ID: "gpt-4o", Name: "GPT-4o", Provider: "OpenAI"},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: "OpenAI"},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: "OpenAI"},
		{ID: "claude-3-opus", Name: "Claude 3 Opus", Provider: "Anthropic"},
		{ID: "claude-3-sonnet", Name: "Claude 3 Sonnet", Provider: "Anthropic"},
	}}
}

// GetAvailableModels returns the list of available models
func (mc *ModelsConfig) GetAvailableModels() []Model {
	return mc.models
}

// IsValidModel checks if a model ID is in the list of available models
func (mc *ModelsConfig) IsValidModel(modelID string) bool {
	for _, model := range mc.models {
		if model.ID == modelID {
			return true
		}
	}
	return false
}

// GetDefaultModel returns the first model as the default
func (mc *ModelsConfig) GetDefaultModel() string {
	if len(mc.models) > 0 {
		return mc.models[0].ID
	}
	return FallbackModelID
}
