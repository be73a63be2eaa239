package llm

import (
	"context"
	"net/http"

	"mcp-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	AnthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	AnthropicVersion        = "2023-06-01"
	AnthropicMaxTokens      = 1024
	anthropicMessagesPath   = "/messages"
	anthropicText           = "content.0.text"
)

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
}

// AnthropicAdapter talks to the Anthropic messages API. The system prompt is sent as a user turn.
type AnthropicAdapter struct {
	client *http.Client
}

func NewAnthropicAdapter(client *http.Client) *AnthropicAdapter {
	return &AnthropicAdapter{client: client}
}

func (a *AnthropicAdapter) Generate(ctx context.Context, req Request) (string, error) {
	baseURL := req.Credentials.BaseURL
	if baseURL == "" {
		baseURL = AnthropicDefaultBaseURL
	}

	logger.Log.WithFields(logrus.Fields{
		"model":  req.Model.ID,
		"family": FamilyAnthropic,
	}).Info("Calling model API")

	headers := map[string]string{
		"x-api-key":         req.Credentials.APIKey,
		"anthropic-version": AnthropicVersion,
	}
	raw, err := postJSON(ctx, a.client, joinURL(baseURL, anthropicMessagesPath), headers, anthropicRequest{
		Model:     req.Model.ID,
		MaxTokens: AnthropicMaxTokens,
		Messages:  buildMessages(req.Message, req.SystemPrompt, "user"),
	})
	if err != nil {
		return "", err
	}
	return extractText(raw, anthropicText)
}
