package model

import (
	"errors"
	"fmt"
)

// ProviderError reports a transport, auth or rate-limit failure from a
// generation provider.
type ProviderError struct {
	// Provider is the human-facing provider name, e.g. "OpenAI".
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "model: provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("model: %s (%s) status %d: %s", e.Provider, e.Model, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model: %s (%s): %s", e.Provider, e.Model, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsProviderError extracts a ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var target *ProviderError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
