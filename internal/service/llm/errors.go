package llm

import (
	"errors"
	"fmt"
	"time"
)

// FallbackResponseText is shown when a backend answered with a body we could not read
const FallbackResponseText = "Sorry, I could not generate a response. The API returned an unexpected response."

// ErrMissingBaseURL is returned for a custom model registered without a base URL
var ErrMissingBaseURL = errors.New("custom model base URL not configured, add it in the settings")

// MissingCredentialsError means the family needs an API key the profile does not have.
// It is raised before any network attempt.
type MissingCredentialsError struct {
	Family Family
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("%s API key not configured, add it in the settings", e.Family.DisplayName())
}

// TransportError is a non-2xx response or a failed connection (Status 0)
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("API request failed: %v", e.Err)
	}
	return fmt.Sprintf("API error: %d - %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnexpectedResponseShapeError is a successful response whose body lacks the expected text path
type UnexpectedResponseShapeError struct {
	// Fallback is safe to show to the user
	Fallback string
}

func (e *UnexpectedResponseShapeError) Error() string {
	return "unexpected API response shape"
}

// CustomModelNotFoundError is returned for a custom-prefixed id with no registration
type CustomModelNotFoundError struct {
	ModelID string
}

func (e *CustomModelNotFoundError) Error() string {
	return fmt.Sprintf("custom model '%s' not found", e.ModelID)
}

// TimeoutError is returned when a backend does not answer within the request timeout
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("model request timed out after %s", e.After)
}
