package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// Adapters holds one adapter per family
type Adapters struct {
	Default   Adapter
	OpenAI    Adapter
	Anthropic Adapter
	Custom    Adapter
}

// Registry resolves model ids to descriptors and dispatches to the family adapter
type Registry struct {
	adapters Adapters
	timeout  time.Duration
	builtin  []ModelDescriptor

	mu     sync.RWMutex
	custom []ModelDescriptor
	byID   map[string]ModelDescriptor
}

// NewRegistry creates a registry. A zero timeout disables the request deadline.
func NewRegistry(adapters Adapters, builtin []ModelDescriptor, timeout time.Duration) *Registry {
	r := &Registry{
		adapters: adapters,
		timeout:  timeout,
		builtin:  builtin,
	}
	r.SetCustomModels(nil)
	return r
}

// SetCustomModels replaces the user's registered custom models
func (r *Registry) SetCustomModels(models []db.CustomModel) {
	custom := make([]ModelDescriptor, 0, len(models))
	byID := make(map[string]ModelDescriptor, len(r.builtin)+len(models))
	for _, d := range r.builtin {
		byID[d.ID] = d
	}
	for _, m := range models {
		if m.ModelID == "" {
			continue
		}
		d := DescribeCustom(m)
		custom = append(custom, d)
		byID[d.ID] = d
	}

	r.mu.Lock()
	r.custom = custom
	r.byID = byID
	r.mu.Unlock()
}

// Models returns the built-in models followed by the custom ones
func (r *Registry) Models() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelDescriptor, 0, len(r.builtin)+len(r.custom))
	out = append(out, r.builtin...)
	return append(out, r.custom...)
}

// Resolve returns the descriptor for modelID. Ids outside the catalog get
// their family from the prefix, except custom ids which must be registered.
func (r *Registry) Resolve(modelID string) (ModelDescriptor, error) {
	r.mu.RLock()
	d, ok := r.byID[modelID]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	family := FamilyForID(modelID)
	if family == FamilyCustom {
		return ModelDescriptor{}, &CustomModelNotFoundError{ModelID: modelID}
	}
	return ModelDescriptor{ID: modelID, DisplayName: modelID, Family: family}, nil
}

// Attempt sends message to modelID and returns the raw response text
func (r *Registry) Attempt(ctx context.Context, modelID, message, systemPrompt string, creds Credentials) (string, error) {
	d, err := r.Resolve(modelID)
	if err != nil {
		return "", err
	}

	req := Request{Model: d, Message: message, SystemPrompt: systemPrompt}
	var adapter Adapter
	switch d.Family {
	case FamilyOpenAI:
		if creds.OpenAI.APIKey == "" {
			return "", &MissingCredentialsError{Family: FamilyOpenAI}
		}
		req.Credentials = creds.OpenAI
		adapter = r.adapters.OpenAI
	case FamilyAnthropic:
		if creds.Anthropic.APIKey == "" {
			return "", &MissingCredentialsError{Family: FamilyAnthropic}
		}
		req.Credentials = creds.Anthropic
		adapter = r.adapters.Anthropic
	case FamilyCustom:
		if d.BaseURL == "" {
			return "", ErrMissingBaseURL
		}
		adapter = r.adapters.Custom
	default:
		adapter = r.adapters.Default
	}
	if adapter == nil {
		return "", fmt.Errorf("no adapter configured for %s models", d.Family.DisplayName())
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := adapter.Generate(callCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = &TimeoutError{After: r.timeout}
		}
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"model":  d.ID,
			"family": d.Family,
		}).Warn("Model request failed")
		return "", err
	}

	logger.Log.WithFields(logrus.Fields{
		"model":          d.ID,
		"family":         d.Family,
		"duration_ms":    time.Since(start).Milliseconds(),
		"content_length": len(text),
	}).Info("Model request completed")
	return text, nil
}
