package llm

import (
	"strings"

	"mcp-chat/internal/config"
	"mcp-chat/internal/repository/db"
)

// Family is the wire dialect of a model backend. It is resolved once when a
// model is registered and dispatch switches on it.
type Family string

const (
	FamilyDefault   Family = "default"
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyCustom    Family = "custom"
)

// Model id prefixes
const (
	OpenAIPrefix    = "gpt-"
	AnthropicPrefix = "claude-"
	CustomPrefix    = "custom-api-"
)

func (f Family) DisplayName() string {
	switch f {
	case FamilyOpenAI:
		return "OpenAI"
	case FamilyAnthropic:
		return "Anthropic"
	case FamilyCustom:
		return "Custom"
	default:
		return "Default"
	}
}

// FamilyForID derives the family from the id prefix. Anything unmatched is default.
func FamilyForID(modelID string) Family {
	switch {
	case strings.HasPrefix(modelID, OpenAIPrefix):
		return FamilyOpenAI
	case strings.HasPrefix(modelID, AnthropicPrefix):
		return FamilyAnthropic
	case strings.HasPrefix(modelID, CustomPrefix):
		return FamilyCustom
	default:
		return FamilyDefault
	}
}

// ModelDescriptor is a selectable model. BaseURL and CanonicalName are only set for custom models.
type ModelDescriptor struct {
	ID            string `json:"id"`
	DisplayName   string `json:"name"`
	Provider      string `json:"provider"`
	Family        Family `json:"family"`
	BaseURL       string `json:"baseUrl,omitempty"`
	CanonicalName string `json:"canonicalName,omitempty"`
}

// DescribeCatalog converts catalog entries into descriptors
func DescribeCatalog(models []config.Model) []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(models))
	for _, m := range models {
		family := FamilyForID(m.ID)
		if family == FamilyCustom {
			// custom ids only come from the user's registrations
			continue
		}
		out = append(out, ModelDescriptor{
			ID:          m.ID,
			DisplayName: m.Name,
			Provider:    m.Provider,
			Family:      family,
		})
	}
	return out
}

// DescribeCustom converts a registered custom model
func DescribeCustom(m db.CustomModel) ModelDescriptor {
	return ModelDescriptor{
		ID:            m.ModelID,
		DisplayName:   m.Name,
		Provider:      "Custom",
		Family:        FamilyCustom,
		BaseURL:       m.BaseURL,
		CanonicalName: m.Name,
	}
}
