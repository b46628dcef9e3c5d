package provider

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// StatusError is an upstream API failure with its HTTP status.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the upstream rejected the API key.
func (e *StatusError) Unauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

// wrapUpstream prefixes err and lifts the SDK's HTTP status into a
// StatusError when there is one.
func wrapUpstream(prefix string, err error) error {
	wrapped := fmt.Errorf("%s: %w", prefix, err)

	var oe *openai.Error
	if errors.As(err, &oe) {
		return &StatusError{Status: oe.StatusCode, Err: wrapped}
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return &StatusError{Status: ae.StatusCode, Err: wrapped}
	}
	return wrapped
}
