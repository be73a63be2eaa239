package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mcp-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

// Message is one turn of an outgoing chat request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildMessages returns the optional system turn followed by the user turn.
// systemRole is the role the system turn is sent with.
func buildMessages(message, systemPrompt, systemRole string) []Message {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: systemRole, Content: systemPrompt})
	}
	return append(messages, Message{Role: "user", Content: message})
}

// postJSON sends body to url and returns the raw response body of a 2xx response
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("error reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Log.WithFields(logrus.Fields{
			"url":         url,
			"status_code": resp.StatusCode,
		}).Warn("Model API returned an error status")
		return nil, &TransportError{Status: resp.StatusCode, Body: string(respBody)}
	}

	logger.Log.WithField("response_length", len(respBody)).Debug("Received raw response")
	return respBody, nil
}
