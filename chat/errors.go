package chat

import (
	"errors"
	"fmt"
	"net/http"
)

// Submit and turn failures. Credential errors get FallbackCredential, the
// rest FallbackGeneric.
var (
	ErrCredentialMissing       = errors.New("no API key configured")
	ErrCredentialInvalidFormat = errors.New("API key has an invalid format")
	ErrSessionMissing          = errors.New("not signed in")
	ErrEmptyInput              = errors.New("message is empty")
	ErrTurnInProgress          = errors.New("a reply is still streaming")
	ErrUnexpectedResponseShape = errors.New("response has no content field")
	ErrEmptyResponse           = errors.New("assistant returned an empty reply")
	ErrTurnAbandoned           = errors.New("turn abandoned")
)

// Fallback texts appended to the conversation when a turn fails.
const (
	FallbackCredential = "I can't reach the assistant because your API key is missing or invalid. " +
		"Add a valid key (it starts with \"sk-\") and send your message again."
	FallbackGeneric = "Sorry, something went wrong while getting a reply. Please try again."
)

// RequestFailedError is a non-2xx answer from the chat endpoint.
type RequestFailedError struct {
	Status int
	Body   string
}

func (e *RequestFailedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat request failed with status %d", e.Status)
	}
	return fmt.Sprintf("chat request failed with status %d: %s", e.Status, e.Body)
}

// IsCredentialError reports whether err was caused by a missing, malformed
// or rejected API key.
func IsCredentialError(err error) bool {
	if errors.Is(err, ErrCredentialMissing) || errors.Is(err, ErrCredentialInvalidFormat) {
		return true
	}
	var reqErr *RequestFailedError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusUnauthorized
}

// FallbackFor maps a turn failure to the text shown in the conversation.
func FallbackFor(err error) string {
	if IsCredentialError(err) {
		return FallbackCredential
	}
	return FallbackGeneric
}

func noticeFor(err error) string {
	switch {
	case IsCredentialError(err):
		return "API key missing or invalid"
	case errors.Is(err, ErrSessionMissing):
		return "Sign in with `lumen login` first"
	default:
		return "Request failed: " + err.Error()
	}
}
