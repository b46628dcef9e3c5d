// Package backend is the CLI's client for the Lumen backend's account
// endpoints: the signed-in user and their stored API key.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"lumen/chat"
	"lumen/credential"
)

const maxErrorBody = 64 << 10

// ErrNotSignedIn is returned when the backend does not know the session.
var ErrNotSignedIn = errors.New("not signed in")

// StatusError is a non-2xx answer carrying the backend's {error, message} body.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Account is the signed-in user as the backend reports it.
type Account struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	HasKey    bool   `json:"hasKey"`
}

// KeyStatus describes the key stored on the backend.
type KeyStatus struct {
	HasKey bool             `json:"hasKey"`
	Meta   *credential.Meta `json:"meta,omitempty"`
}

type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

// New creates a client for the backend at baseURL acting for sessionID. A
// nil httpClient uses http.DefaultClient.
func New(baseURL, sessionID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		http:      httpClient,
	}
}

// LoginURL is the page that starts the Google sign-in.
func (c *Client) LoginURL() string {
	return c.baseURL + "/auth/login"
}

func (c *Client) Me(ctx context.Context) (Account, error) {
	var account Account
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &account)
	return account, err
}

// PutKey stores key on the backend for the signed-in user.
func (c *Client) PutKey(ctx context.Context, key string) (KeyStatus, error) {
	var status KeyStatus
	err := c.do(ctx, http.MethodPut, "/api/key", map[string]string{"key": key}, &status)
	return status, err
}

func (c *Client) Key(ctx context.Context) (KeyStatus, error) {
	var status KeyStatus
	err := c.do(ctx, http.MethodGet, "/api/key", nil, &status)
	return status, err
}

func (c *Client) DeleteKey(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/key", nil, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.sessionID != "" {
		req.Header.Set(chat.SessionHeader, c.sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	parsed := gjson.ParseBytes(data)

	err := &StatusError{
		Status:  resp.StatusCode,
		Code:    parsed.Get("error").String(),
		Message: parsed.Get("message").String(),
	}
	if err.Message == "" {
		err.Message = strings.TrimSpace(string(data))
	}

	if err.Code == "session_required" {
		return fmt.Errorf("%w: %w", ErrNotSignedIn, err)
	}
	return err
}
