package llm

import (
	"context"
	"net/http"
	"strings"

	"mcp-chat/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	OpenAIDefaultBaseURL = "https://api.openai.com"
	chatCompletionsPath  = "/v1/chat/completions"
	chatCompletionsText  = "choices.0.message.content"
)

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// OpenAIAdapter talks to OpenAI-compatible chat completion endpoints
type OpenAIAdapter struct {
	client *http.Client
}

func NewOpenAIAdapter(client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{client: client}
}

func (a *OpenAIAdapter) Generate(ctx context.Context, req Request) (string, error) {
	baseURL := req.Credentials.BaseURL
	if baseURL == "" {
		baseURL = OpenAIDefaultBaseURL
	}

	logger.Log.WithFields(logrus.Fields{
		"model":  req.Model.ID,
		"family": FamilyOpenAI,
	}).Info("Calling model API")

	headers := map[string]string{"Authorization": "Bearer " + req.Credentials.APIKey}
	return chatCompletion(ctx, a.client, joinURL(baseURL, chatCompletionsPath), headers, chatCompletionRequest{
		Model:    req.Model.ID,
		Messages: buildMessages(req.Message, req.SystemPrompt, "system"),
	})
}

// CustomAdapter talks to a user-registered OpenAI-compatible endpoint without auth
type CustomAdapter struct {
	client *http.Client
}

func NewCustomAdapter(client *http.Client) *CustomAdapter {
	return &CustomAdapter{client: client}
}

func (a *CustomAdapter) Generate(ctx context.Context, req Request) (string, error) {
	if req.Model.BaseURL == "" {
		return "", ErrMissingBaseURL
	}

	logger.Log.WithFields(logrus.Fields{
		"model":          req.Model.ID,
		"canonical_name": req.Model.CanonicalName,
		"family":         FamilyCustom,
	}).Info("Calling model API")

	return chatCompletion(ctx, a.client, joinURL(req.Model.BaseURL, chatCompletionsPath), nil, chatCompletionRequest{
		Model:    req.Model.CanonicalName,
		Messages: buildMessages(req.Message, req.SystemPrompt, "system"),
	})
}

func chatCompletion(ctx context.Context, client *http.Client, url string, headers map[string]string, body chatCompletionRequest) (string, error) {
	raw, err := postJSON(ctx, client, url, headers, body)
	if err != nil {
		return "", err
	}
	return extractText(raw, chatCompletionsText)
}

// extractText reads a string at path, or reports an unexpected shape
func extractText(raw []byte, path string) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", &UnexpectedResponseShapeError{Fallback: FallbackResponseText}
	}
	result := gjson.GetBytes(raw, path)
	if result.Type != gjson.String || result.String() == "" {
		logger.Log.WithField("path", path).Warn("Unexpected API response shape")
		return "", &UnexpectedResponseShapeError{Fallback: FallbackResponseText}
	}
	return result.String(), nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
