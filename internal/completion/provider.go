// Package completion talks to the hosted language model.
//
// Providers return explicit errors; Client is the boundary that turns every
// failure into a user-facing string so callers never handle errors.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// Provider produces one completion for a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	// ErrMissingAPIKey means the provider has no credential configured.
	ErrMissingAPIKey = errors.New("completion: api key is not set")
	// ErrEmptyResponse means the provider answered without any text.
	ErrEmptyResponse = errors.New("completion: empty response")
	// ErrMalformedResponse means the provider's body could not be decoded.
	ErrMalformedResponse = errors.New("completion: malformed response")
)

// APIError is a non-2xx answer from the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion: http %d", e.StatusCode)
	}
	return fmt.Sprintf("completion: http %d: %s", e.StatusCode, e.Message)
}
