package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lumen/stream"
)

const validKey = "sk-test-0123456789abcdef"

// fakeTransport hands out preset responses and records every request.
type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	open     func(ctx context.Context, req Request) (*Response, error)
}

func (f *fakeTransport) Open(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.open(ctx, req)
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// trackedBody is an SSE body that records whether it was closed.
type trackedBody struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func (b *trackedBody) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *trackedBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func sse(tokens ...string) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString("data: " + tok + "\n")
	}
	sb.WriteString("data: [DONE]\n")
	return sb.String()
}

func streaming(body *trackedBody) *fakeTransport {
	return &fakeTransport{open: func(context.Context, Request) (*Response, error) {
		return &Response{Body: body, Streamed: true}, nil
	}}
}

// recorder collects updates in publish order.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) observe(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) texts(state State) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, u := range r.updates {
		if u.State == state && u.Text != "" {
			out = append(out, u.Text)
		}
	}
	return out
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, u := range r.updates {
		if len(out) == 0 || out[len(out)-1] != u.State {
			out = append(out, u.State)
		}
	}
	return out
}

func newReadyController(t Transport, opts ...Option) *Controller {
	c := NewController(t, opts...)
	c.SetCredential(validKey)
	c.SetSessionID("session-1")
	return c
}

func waitTurn(t *testing.T, turn *Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
}

func lastMessage(c *Controller) Message {
	msgs := c.Messages()
	return msgs[len(msgs)-1]
}

func TestSubmitStreamsAndCompletes(t *testing.T) {
	defer goleak.VerifyNone(t)

	body := &trackedBody{Reader: strings.NewReader(sse("Hello", "world", "!"))}
	transport := streaming(body)
	c := newReadyController(transport)
	rec := &recorder{}
	c.Subscribe(rec.observe)

	turn, err := c.Submit(context.Background(), "  greet me  ")
	require.NoError(t, err)
	waitTurn(t, turn)

	require.NoError(t, turn.Err())
	assert.Equal(t, "Hello world!", turn.Message().Content)
	assert.Equal(t, []string{"Hello", "Hello world", "Hello world!"}, rec.texts(StateStreaming))
	assert.Equal(t, []State{StateSending, StateStreaming, StateFinalizing, StateCompleted, StateIdle}, rec.states())
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, body.isClosed())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "greet me", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)

	require.Equal(t, 1, transport.calls())
	req := transport.requests[0]
	assert.True(t, req.Stream)
	assert.Equal(t, "session-1", req.SessionID)
	assert.Equal(t, validKey, req.Credential)
	assert.Equal(t, "sk-test", req.CredentialMeta.Prefix)
	assert.Equal(t, "cdef", req.CredentialMeta.Suffix)
	assert.Equal(t, len(validKey), req.CredentialMeta.Length)
	assert.Equal(t, []WireMessage{{Role: RoleUser, Content: "greet me"}}, req.Messages)
}

func TestStreamingTextNeverShrinks(t *testing.T) {
	defer goleak.VerifyNone(t)

	tokens := []string{"Plan", "the", "day.", "First", ",", "coffee", "!", "Then", "work", "."}
	c := newReadyController(streaming(&trackedBody{Reader: strings.NewReader(sse(tokens...))}))
	rec := &recorder{}
	c.Subscribe(rec.observe)

	turn, err := c.Submit(context.Background(), "plan")
	require.NoError(t, err)
	waitTurn(t, turn)

	texts := rec.texts(StateStreaming)
	require.Len(t, texts, len(tokens))
	for i := 1; i < len(texts); i++ {
		assert.True(t, strings.HasPrefix(texts[i], texts[i-1]), "update %d is not an extension", i)
	}
}

func TestSubmitExtractsCalendarEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	event := `{"type":"calendar","title":"Lunch","start":"2024-01-01T12:00:00Z","end":"2024-01-01T13:00:00Z"}`
	c := newReadyController(streaming(&trackedBody{Reader: strings.NewReader(sse("Sure,", "here:", event, "Enjoy!"))}))

	turn, err := c.Submit(context.Background(), "lunch tomorrow")
	require.NoError(t, err)
	waitTurn(t, turn)

	msg := lastMessage(c)
	require.NotNil(t, msg.CalendarEvent)
	assert.Equal(t, "Lunch", msg.CalendarEvent.Title)
	assert.True(t, msg.CalendarEvent.Start.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSubmitExtractsFromRawWhenNormalizingBreaksJSON(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Normalize puts a paragraph break inside the "Dr.Who" string.
	event := `{"type":"calendar","title":"Dr.Who marathon","start":"2024-02-03"}`
	c := newReadyController(streaming(&trackedBody{Reader: strings.NewReader(sse("Booked.", event))}))

	turn, err := c.Submit(context.Background(), "tv night")
	require.NoError(t, err)
	waitTurn(t, turn)

	msg := lastMessage(c)
	require.NotNil(t, msg.CalendarEvent)
	assert.Equal(t, "Dr.Who marathon", msg.CalendarEvent.Title)
	assert.True(t, msg.CalendarEvent.AllDay)
}

func TestSubmitInvalidEventIsIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newReadyController(streaming(&trackedBody{
		Reader: strings.NewReader(sse(`Maybe {"type":"calendar","title":"x","start":"someday"}`)),
	}), WithSpeculativeExtraction())

	turn, err := c.Submit(context.Background(), "whenever")
	require.NoError(t, err)
	waitTurn(t, turn)

	require.NoError(t, turn.Err())
	assert.Nil(t, lastMessage(c).CalendarEvent)
}

func TestSubmitCredentialPreconditions(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		session    string
		wantErr    error
		fallback   string
	}{
		{"short key", "abc", "session-1", ErrCredentialInvalidFormat, FallbackCredential},
		{"missing key", "", "session-1", ErrCredentialMissing, FallbackCredential},
		{"missing session", validKey, "", ErrSessionMissing, FallbackGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{open: func(context.Context, Request) (*Response, error) {
				t.Fatal("transport must not be called")
				return nil, nil
			}}
			c := NewController(transport)
			c.SetCredential(tt.credential)
			c.SetSessionID(tt.session)
			rec := &recorder{}
			c.Subscribe(rec.observe)

			turn, err := c.Submit(context.Background(), "hello")

			assert.Nil(t, turn)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, transport.calls())
			assert.Equal(t, tt.fallback, lastMessage(c).Content)
			assert.Equal(t, StateIdle, c.State())
			assert.Equal(t, []State{StateFailed}, rec.states())
		})
	}
}

func TestFailedExchangeIsNotSentUpstream(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := streaming(&trackedBody{Reader: strings.NewReader(sse("Hi", "there"))})
	c := NewController(transport)
	c.SetSessionID("session-1")
	c.SetCredential("abc")

	_, err := c.Submit(context.Background(), "first try")
	require.ErrorIs(t, err, ErrCredentialInvalidFormat)
	assert.True(t, lastMessage(c).Fallback)

	c.SetCredential(validKey)
	turn, err := c.Submit(context.Background(), "second try")
	require.NoError(t, err)
	waitTurn(t, turn)

	require.Equal(t, 1, transport.calls())
	assert.Equal(t, []WireMessage{{Role: RoleUser, Content: "second try"}}, transport.requests[0].Messages)

	// The failed exchange stays in the local conversation.
	assert.Equal(t, []string{"first try", FallbackCredential, "second try", "Hi there"}, contentsOf(c.Messages()))
	assert.False(t, lastMessage(c).Fallback)
}

func TestSubmitEmptyInput(t *testing.T) {
	c := newReadyController(&fakeTransport{})

	_, err := c.Submit(context.Background(), " \n\t")

	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, c.Messages())
}

func TestSubmitRejectsWhileTurnRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	transport := &fakeTransport{open: func(context.Context, Request) (*Response, error) {
		return &Response{Body: pr, Streamed: true}, nil
	}}
	c := newReadyController(transport)

	turn, err := c.Submit(context.Background(), "first")
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	_, err = io.WriteString(pw, sse("Done"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	waitTurn(t, turn)

	assert.Equal(t, 1, transport.calls())
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "Done", msgs[1].Content)
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name     string
		open     func() (*Response, error)
		wantErr  error
		fallback string
	}{
		{
			name:     "server error",
			open:     func() (*Response, error) { return nil, &RequestFailedError{Status: 500, Body: "boom"} },
			fallback: FallbackGeneric,
		},
		{
			name:     "rejected key",
			open:     func() (*Response, error) { return nil, &RequestFailedError{Status: 401, Body: "bad key"} },
			fallback: FallbackCredential,
		},
		{
			name:     "missing body",
			open:     func() (*Response, error) { return &Response{Streamed: true}, nil },
			wantErr:  stream.ErrStreamUnavailable,
			fallback: FallbackGeneric,
		},
		{
			name:     "empty stream",
			open:     func() (*Response, error) { return &Response{Body: io.NopCloser(strings.NewReader(sse())), Streamed: true}, nil },
			wantErr:  ErrEmptyResponse,
			fallback: FallbackGeneric,
		},
		{
			name:     "unexpected shape",
			open:     func() (*Response, error) { return nil, ErrUnexpectedResponseShape },
			wantErr:  ErrUnexpectedResponseShape,
			fallback: FallbackGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			c := newReadyController(&fakeTransport{open: func(context.Context, Request) (*Response, error) {
				return tt.open()
			}})
			rec := &recorder{}
			c.Subscribe(rec.observe)

			turn, err := c.Submit(context.Background(), "hi")
			require.NoError(t, err)
			waitTurn(t, turn)

			require.Error(t, turn.Err())
			if tt.wantErr != nil {
				assert.ErrorIs(t, turn.Err(), tt.wantErr)
			}
			assert.Equal(t, tt.fallback, lastMessage(c).Content)
			assert.Contains(t, rec.states(), StateFailed)
			assert.Equal(t, StateIdle, c.State())
		})
	}
}

func TestReadFailureMidStreamDiscardsPartialText(t *testing.T) {
	defer goleak.VerifyNone(t)

	body := &trackedBody{Reader: io.MultiReader(
		strings.NewReader("data: partial\n"),
		&failingReader{err: errors.New("connection reset")},
	)}
	c := newReadyController(streaming(body))
	rec := &recorder{}
	c.Subscribe(rec.observe)

	turn, err := c.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitTurn(t, turn)

	assert.EqualError(t, turn.Err(), "connection reset")
	assert.Equal(t, FallbackGeneric, lastMessage(c).Content)
	assert.True(t, body.isClosed())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.updates[len(rec.updates)-2]
	assert.Equal(t, StateFailed, last.State)
	assert.NotEmpty(t, last.Notice)
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestNonStreamedResponse(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newReadyController(&fakeTransport{open: func(context.Context, Request) (*Response, error) {
		return &Response{Content: "Hi there.How are you?"}, nil
	}})

	turn, err := c.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitTurn(t, turn)

	assert.Equal(t, "Hi there.\n\nHow are you?", lastMessage(c).Content)
}

// chanBody delivers tokens pushed by the test and ignores Close, so late
// tokens can still reach an abandoned turn.
type chanBody struct {
	lines chan string
	buf   []byte
}

func (b *chanBody) Read(p []byte) (int, error) {
	if len(b.buf) == 0 {
		line, ok := <-b.lines
		if !ok {
			return 0, io.EOF
		}
		b.buf = []byte(line)
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *chanBody) Close() error { return nil }

func TestAbandonedTurnCannotTouchConversation(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := &chanBody{lines: make(chan string, 4)}
	second := &chanBody{lines: make(chan string, 4)}
	transport := &fakeTransport{open: func(_ context.Context, req Request) (*Response, error) {
		b := first
		if req.Messages[len(req.Messages)-1].Content == "two" {
			b = second
		}
		return &Response{Body: b, Streamed: true}, nil
	}}
	c := newReadyController(transport)
	rec := &recorder{}
	c.Subscribe(rec.observe)

	turn1, err := c.Submit(context.Background(), "one")
	require.NoError(t, err)
	first.lines <- "data: Early\n"

	c.Abandon()
	assert.Equal(t, StateIdle, c.State())

	turn2, err := c.Submit(context.Background(), "two")
	require.NoError(t, err)
	second.lines <- "data: Fresh\n"

	// Late token for the abandoned turn.
	first.lines <- "data: Late\n"
	close(first.lines)
	waitTurn(t, turn1)

	close(second.lines)
	waitTurn(t, turn2)

	assert.ErrorIs(t, turn1.Err(), ErrTurnAbandoned)
	require.NoError(t, turn2.Err())
	assert.Equal(t, "Fresh", turn2.Message().Content)

	var contents []string
	for _, m := range c.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "Fresh"}, contents)

	for _, text := range rec.texts(StateStreaming) {
		assert.NotContains(t, text, "Late")
	}
}

func TestAbandonClosesReader(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	defer pw.Close()
	c := newReadyController(&fakeTransport{open: func(context.Context, Request) (*Response, error) {
		return &Response{Body: pr, Streamed: true}, nil
	}})

	turn, err := c.Submit(context.Background(), "hi")
	require.NoError(t, err)
	_, err = io.WriteString(pw, "data: Partial\n")
	require.NoError(t, err)

	c.Abandon()
	waitTurn(t, turn)

	_, err = io.WriteString(pw, "data: more\n")
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, []string{"hi"}, contentsOf(c.Messages()))
}

func TestCancelledContextEndsTurn(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	defer pw.Close()
	c := newReadyController(&fakeTransport{open: func(context.Context, Request) (*Response, error) {
		return &Response{Body: pr, Streamed: true}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := c.Submit(ctx, "hi")
	require.NoError(t, err)

	cancel()
	waitTurn(t, turn)

	assert.ErrorIs(t, turn.Err(), context.Canceled)
	assert.Equal(t, FallbackGeneric, lastMessage(c).Content)
	assert.Equal(t, StateIdle, c.State())
}

type memoryRecorder struct {
	mu    sync.Mutex
	saved [][]Message
}

func (r *memoryRecorder) Record(messages []Message) error {
	r.mu.Lock()
	r.saved = append(r.saved, messages)
	r.mu.Unlock()
	return nil
}

func TestRecorderAndSystemPrompt(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memoryRecorder{}
	transport := streaming(&trackedBody{Reader: strings.NewReader(sse("Ok"))})
	c := newReadyController(transport, WithRecorder(store), WithSystemPrompt(DefaultSystemPrompt))

	turn, err := c.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitTurn(t, turn)

	require.Len(t, store.saved, 1)
	assert.Equal(t, []string{"hi", "Ok"}, contentsOf(store.saved[0]))

	req := transport.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
}

func TestLoadReplacesConversation(t *testing.T) {
	c := NewController(&fakeTransport{})
	loaded := []Message{NewMessage(RoleUser, "a"), NewMessage(RoleAssistant, "b")}

	c.Load(loaded)
	msgs := c.Messages()
	msgs[0].Content = "changed"

	assert.Equal(t, []string{"a", "b"}, contentsOf(c.Messages()))

	c.Reset()
	assert.Empty(t, c.Messages())
}

func contentsOf(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
