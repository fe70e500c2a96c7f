// Package vision sends page images to OpenAI-compatible vision models and
// returns their raw text answers.
package vision

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned for a provider name that is not declared.
	ErrUnknownProvider = errors.New("vision: unknown provider")
	// ErrProviderNotConfigured is returned when a provider lacks a key, model or endpoint.
	ErrProviderNotConfigured = errors.New("vision: provider not configured")
	// ErrRetriesExhausted is returned after the last retryable failure.
	ErrRetriesExhausted = errors.New("vision: retries exhausted")
	// ErrEmptyResponse is returned when the model answers with no choices.
	ErrEmptyResponse = errors.New("vision: empty response")
)

// AttemptError wraps the failure of a single call attempt.
type AttemptError struct {
	Err         error
	Attempt     int
	MaxAttempts int
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d/%d: %v", e.Attempt, e.MaxAttempts, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
