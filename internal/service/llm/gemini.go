package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"mcp-chat/internal/logger"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// contentGenerator is the part of the genai client the default adapter needs
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiAdapter serves the default family through the Gen AI SDK. It uses the
// host's API key, never the user's profile credentials.
type GeminiAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	generator contentGenerator
}

func NewGeminiAdapter(apiKey, baseURL string, httpClient *http.Client) *GeminiAdapter {
	return &GeminiAdapter{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

func (a *GeminiAdapter) client(ctx context.Context) (contentGenerator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.generator != nil {
		return a.generator, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      a.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  a.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: a.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	a.generator = client.Models
	return a.generator, nil
}

func (a *GeminiAdapter) Generate(ctx context.Context, req Request) (string, error) {
	gen, err := a.client(ctx)
	if err != nil {
		return "", err
	}

	// no system role in contents, the system turn goes first as a user turn
	var contents []*genai.Content
	for _, m := range buildMessages(req.Message, req.SystemPrompt, "user") {
		contents = append(contents, &genai.Content{
			Role:  m.Role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	logger.Log.WithFields(logrus.Fields{
		"model":  req.Model.ID,
		"family": FamilyDefault,
		"turns":  len(contents),
	}).Info("Calling model API")

	resp, err := gen.GenerateContent(ctx, req.Model.ID, contents, nil)
	if err != nil {
		return "", mapGenAIError(err)
	}

	text := firstCandidateText(resp)
	if text == "" {
		logger.Log.WithField("model", req.Model.ID).Warn("Unexpected API response shape")
		return "", &UnexpectedResponseShapeError{Fallback: FallbackResponseText}
	}
	return text, nil
}

// firstCandidateText reads candidates[0].content.parts[0].text
func firstCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 || c.Content.Parts[0] == nil {
		return ""
	}
	return c.Content.Parts[0].Text
}

func mapGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{Status: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &TransportError{Status: apiErrPtr.Code, Body: apiErrPtr.Message, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &TransportError{Err: err}
}
