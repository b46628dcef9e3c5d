package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/chat"
	"lumen/provider"
	"lumen/stream"
	"lumen/textfmt"
)

func chatBody(stream bool, credential string) map[string]any {
	body := map[string]any{
		"messages": []map[string]string{
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"},
		},
		"stream": stream,
	}
	if credential != "" {
		body["credential"] = credential
	}
	return body
}

func TestChatStreamsFrames(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.Deltas = []string{"Hello", " world", "!\nBye", "\n\n"}
	session := env.signIn(t)

	rec := env.do(t, http.MethodPost, "/api/chat", session, chatBody(true, testKey))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"data: Hello\n\ndata:  world\n\ndata: !\ndata: Bye\n\ndata: [DONE]\n\n",
		rec.Body.String())

	dec, err := stream.NewDecoder(strings.NewReader(rec.Body.String()))
	require.NoError(t, err)
	var tokens []string
	for dec.Next() {
		tokens = append(tokens, dec.Token())
	}
	assert.True(t, dec.SawDone())
	assert.Equal(t, "Hello world!\n\nBye", textfmt.Fold(tokens))

	assert.Equal(t, testKey, <-env.keys)
	received := env.upstream.Received()
	require.Len(t, received, 1)
	assert.Equal(t, []provider.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, received[0])
}

func TestChatNonStreamed(t *testing.T) {
	env := newTestEnv(t)
	session := env.signIn(t)

	rec := env.do(t, http.MethodPost, "/api/chat", session, chatBody(false, testKey))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":"Hello world!"}`, rec.Body.String())
}

func TestChatEmptyReplyStillEndsStream(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.Deltas = nil
	session := env.signIn(t)

	rec := env.do(t, http.MethodPost, "/api/chat", session, chatBody(true, testKey))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
}

func TestChatUsesStoredKey(t *testing.T) {
	env := newTestEnv(t)
	session := env.signIn(t)

	rec := env.do(t, http.MethodPost, "/api/chat", session, chatBody(true, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "missing_credential", body.Error)

	const stored = "sk-ant-REDACTED"
	require.NoError(t, env.accounts.SetKey(session, stored))

	rec = env.do(t, http.MethodPost, "/api/chat", session, chatBody(true, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stored, <-env.keys)
}

func TestChatSessionFromBody(t *testing.T) {
	env := newTestEnv(t)
	session := env.signIn(t)

	body := chatBody(false, testKey)
	body["sessionId"] = session
	rec := env.do(t, http.MethodPost, "/api/chat", "", body)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatRejections(t *testing.T) {
	env := newTestEnv(t)
	session := env.signIn(t)

	tests := []struct {
		name    string
		session string
		body    any
		status  int
		code    string
	}{
		{"no session", "", chatBody(true, testKey), http.StatusForbidden, "session_required"},
		{"unknown session", "nope", chatBody(true, testKey), http.StatusForbidden, "session_required"},
		{"bad credential format", session, chatBody(true, "abc"), http.StatusBadRequest, "invalid_credential"},
		{"no messages", session, map[string]any{"credential": testKey, "stream": true}, http.StatusBadRequest, "empty_conversation"},
		{"not json", session, "nope", http.StatusBadRequest, "invalid_body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/chat", tt.session, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body errorResponse
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.code, body.Error)
		})
	}
	assert.Empty(t, env.upstream.Received())
}

func TestChatUpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rejected key", &provider.StatusError{Status: 401, Err: errors.New("bad key")}, http.StatusUnauthorized, "invalid_credential"},
		{"rate limited", &provider.StatusError{Status: 429, Err: errors.New("slow down")}, http.StatusBadGateway, "upstream_error"},
		{"network", errors.New("dial tcp: refused"), http.StatusBadGateway, "upstream_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.upstream.ChatFunc = func(context.Context, []provider.Message, provider.StreamCallback) error {
				return tt.err
			}
			session := env.signIn(t)

			rec := env.do(t, http.MethodPost, "/api/chat", session, chatBody(true, testKey))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body errorResponse
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.code, body.Error)
		})
	}
}

func TestChatFailureMidStreamCutsStream(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.ChatFunc = func(ctx context.Context, _ []provider.Message, cb provider.StreamCallback) error {
		if err := cb("partial"); err != nil {
			return err
		}
		return errors.New("upstream hung up")
	}
	session := env.signIn(t)

	rec := env.do(t, http.MethodPost, "/api/chat", session, chatBody(true, testKey))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: partial\n\n", rec.Body.String())
}

// The client controller and the backend agree on the wire format end to end.
func TestChatWithController(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.Deltas = []string{"Lunch", " is", " booked.", "\n", `{"type":"calendar","title":"Lunch","start":"2025-03-14T12:00:00Z"}`}
	session := env.signIn(t)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctrl := chat.NewController(chat.NewHTTPTransport(srv.URL, srv.Client()))
	ctrl.SetCredential(testKey)
	ctrl.SetSessionID(session)

	turn, err := ctrl.Submit(context.Background(), "Book lunch")
	require.NoError(t, err)

	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
	require.NoError(t, turn.Err())

	msg := turn.Message()
	assert.Equal(t, chat.RoleAssistant, msg.Role)
	assert.True(t, strings.HasPrefix(msg.Content, "Lunch is booked."), msg.Content)
	require.NotNil(t, msg.CalendarEvent)
	assert.Equal(t, "Lunch", msg.CalendarEvent.Title)
	assert.True(t, msg.CalendarEvent.Start.Equal(time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)))
}

func TestChatControllerRejectedKey(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.ChatFunc = func(context.Context, []provider.Message, provider.StreamCallback) error {
		return &provider.StatusError{Status: 401, Err: errors.New("bad key")}
	}
	session := env.signIn(t)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctrl := chat.NewController(chat.NewHTTPTransport(srv.URL, srv.Client()))
	ctrl.SetCredential(testKey)
	ctrl.SetSessionID(session)

	turn, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)
	<-turn.Done()

	assert.True(t, chat.IsCredentialError(turn.Err()))
	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.FallbackCredential, msgs[1].Content)
}
