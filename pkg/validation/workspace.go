package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"mcp-chat/internal/repository/db"
)

const (
	MaxNameLength   = 100
	MaxPromptLength = 8000
)

// WorkspaceRequestValidator validates profile and workspace requests
type WorkspaceRequestValidator struct{}

// NewWorkspaceRequestValidator creates a new WorkspaceRequestValidator
func NewWorkspaceRequestValidator() *WorkspaceRequestValidator {
	return &WorkspaceRequestValidator{}
}

// ValidateName validates a display or item name; field names the value in errors
func (v *WorkspaceRequestValidator) ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return fmt.Errorf("%s must be at most %d characters long, got %d", field, MaxNameLength, n)
	}
	return nil
}

// ValidatePrompt validates saved prompt text
func (v *WorkspaceRequestValidator) ValidatePrompt(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if n := utf8.RuneCountInString(text); n > MaxPromptLength {
		return fmt.Errorf("%s must be at most %d characters long, got %d", field, MaxPromptLength, n)
	}
	return nil
}

// ValidateStatus accepts active and inactive
func (v *WorkspaceRequestValidator) ValidateStatus(status string) error {
	if status != db.StatusActive && status != db.StatusInactive {
		return fmt.Errorf("status must be one of: %s, %s; got %s", db.StatusActive, db.StatusInactive, status)
	}
	return nil
}

// ValidateURL requires an absolute http or https URL
func (v *WorkspaceRequestValidator) ValidateURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}

// ValidateOptionalURL is ValidateURL for values that may be left empty
func (v *WorkspaceRequestValidator) ValidateOptionalURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return v.ValidateURL(field, raw)
}

// ValidateCustomModel validates a custom model registration
func (v *WorkspaceRequestValidator) ValidateCustomModel(name, baseURL string) error {
	if err := v.ValidateName("model name", name); err != nil {
		return err
	}
	return v.ValidateURL("base URL", baseURL)
}

// ValidateTool validates a new tool definition
func (v *WorkspaceRequestValidator) ValidateTool(name, status string) error {
	if err := v.ValidateName("tool name", name); err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	return v.ValidateStatus(status)
}

// ValidateAgent validates a new agent definition
func (v *WorkspaceRequestValidator) ValidateAgent(name, professionPrompt, status string) error {
	if err := v.ValidateName("agent name", name); err != nil {
		return err
	}
	if utf8.RuneCountInString(professionPrompt) > MaxPromptLength {
		return errors.New("profession prompt is too long")
	}
	if status == "" {
		return nil
	}
	return v.ValidateStatus(status)
}

// ValidateProfile validates a profile update. Base URLs are optional overrides.
func (v *WorkspaceRequestValidator) ValidateProfile(displayName, openaiBaseURL, anthropicBaseURL string) error {
	if err := v.ValidateName("display name", displayName); err != nil {
		return err
	}
	if err := v.ValidateOptionalURL("openai base URL", openaiBaseURL); err != nil {
		return err
	}
	return v.ValidateOptionalURL("anthropic base URL", anthropicBaseURL)
}
