package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"lumen/credential"
)

const (
	// SessionHeader carries the backend session id on every request.
	SessionHeader = "X-Session-ID"

	chatPath     = "/api/chat"
	maxErrorBody = 64 << 10
)

// WireMessage is the role and content of a Message as sent upstream.
type WireMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the body of POST /api/chat.
type Request struct {
	SessionID      string          `json:"sessionId"`
	Messages       []WireMessage   `json:"messages"`
	Credential     string          `json:"credential,omitempty"`
	CredentialMeta credential.Meta `json:"credentialMeta"`
	Stream         bool            `json:"stream"`
}

// Response is an opened chat reply. Streamed replies carry an SSE Body the
// caller must close; non-streamed replies carry Content.
type Response struct {
	Body     io.ReadCloser
	Content  string
	Streamed bool
}

// Transport opens a chat reply.
type Transport interface {
	Open(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport talks to the Lumen backend.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport for the backend at baseURL. The client
// must not set a timeout shorter than the longest expected reply; a nil
// client uses http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (t *HTTPTransport) Open(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+chatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")
	if req.SessionID != "" {
		httpReq.Header.Set(SessionHeader, req.SessionID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RequestFailedError{Status: resp.StatusCode, Body: errorMessage(body)}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return &Response{Body: resp.Body, Streamed: true}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}

	content := gjson.GetBytes(body, "content")
	if !content.Exists() || content.Type != gjson.String {
		return nil, ErrUnexpectedResponseShape
	}
	return &Response{Content: content.String()}, nil
}

// errorMessage prefers the message field of a JSON error body.
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	return strings.TrimSpace(string(body))
}
