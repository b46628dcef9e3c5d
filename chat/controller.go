// Package chat drives one conversation with the Lumen backend.
//
// A Controller owns the message list and runs at most one turn at a time.
// Each turn moves through
//
//	Idle -> Sending -> Streaming -> Finalizing -> Completed | Failed -> Idle
//
// Tokens read from the stream are folded into the turn's text with
// textfmt.Append and published to subscribers as they arrive. When the
// stream ends the text is normalized, scanned once for a calendar event and
// appended to the conversation.
package chat

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"sync"

	"lumen/calendar"
	"lumen/credential"
	"lumen/stream"
	"lumen/textfmt"
)

// State is where the controller is in the current turn.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is published to subscribers on every state change and every token.
// Text only grows within a turn. Message is set when a message was appended.
type Update struct {
	TurnID  uint64
	State   State
	Text    string
	Message *Message
	Err     error
	Notice  string
}

// Recorder persists the conversation after each completed turn.
type Recorder interface {
	Record(messages []Message) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSpeculativeExtraction also looks for a calendar event while tokens are
// still arriving. A match is only used when the final text yields none.
func WithSpeculativeExtraction() Option {
	return func(c *Controller) { c.speculative = true }
}

// WithRecorder saves the conversation after every completed turn.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger traces turns to l.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithSystemPrompt prepends a system message to every request.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) { c.systemPrompt = strings.TrimSpace(prompt) }
}

// Controller owns one conversation and runs its turns.
type Controller struct {
	mu         sync.Mutex
	transport  Transport
	credential string
	sessionID  string
	messages   []Message
	state      State
	turnSeq    uint64
	current    *Turn
	observers  []func(Update)

	speculative  bool
	recorder     Recorder
	logger       *log.Logger
	systemPrompt string
}

// NewController returns an idle controller with an empty conversation.
func NewController(transport Transport, opts ...Option) *Controller {
	c := &Controller{transport: transport}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredential sets the API key sent with each request.
func (c *Controller) SetCredential(key string) {
	c.mu.Lock()
	c.credential = strings.TrimSpace(key)
	c.mu.Unlock()
}

// SetSessionID sets the backend session from `lumen login`.
func (c *Controller) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = strings.TrimSpace(id)
	c.mu.Unlock()
}

// Subscribe registers fn for every Update. Observers run on the goroutine
// that produced the update and must not block for long.
func (c *Controller) Subscribe(fn func(Update)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Messages returns a copy of the conversation.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// State returns the current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load replaces the conversation, abandoning any turn in flight.
func (c *Controller) Load(messages []Message) {
	c.Abandon()
	c.mu.Lock()
	c.messages = append([]Message(nil), messages...)
	c.mu.Unlock()
}

// Reset starts an empty conversation.
func (c *Controller) Reset() {
	c.Load(nil)
}

// Submit starts a turn for input. It never queues: while another turn is
// running it returns ErrTurnInProgress. Credential and session problems are
// reported before any request is made, with a fallback reply appended to
// the conversation.
func (c *Controller) Submit(ctx context.Context, input string) (*Turn, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrTurnInProgress
	}

	user := NewMessage(RoleUser, input)
	c.messages = append(c.messages, user)

	if err := c.preconditionLocked(); err != nil {
		fallback := newFallback(err)
		c.messages = append(c.messages, fallback)
		c.mu.Unlock()

		c.logf("[Chat] Rejected submission: %v", err)
		c.publish(Update{State: StateFailed, Message: &fallback, Err: err, Notice: noticeFor(err)})
		return nil, err
	}

	c.turnSeq++
	turn := newTurn(ctx, c.turnSeq)
	c.current = turn
	c.state = StateSending
	req := c.requestLocked()
	c.mu.Unlock()

	c.logf("[Chat] Turn %d: sending %d messages (key %s)", turn.id, len(req.Messages), req.CredentialMeta.Mask())
	c.publish(Update{TurnID: turn.id, State: StateSending, Message: &user})

	go c.run(turn, req)
	return turn, nil
}

// Abandon stops the turn in flight, if any, and returns to Idle. Anything the
// abandoned turn produces afterwards is discarded.
func (c *Controller) Abandon() {
	c.mu.Lock()
	turn := c.current
	if turn == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = StateIdle
	turn.finish(Message{}, ErrTurnAbandoned)
	c.mu.Unlock()

	turn.cancel()
	turn.closeReader()

	c.logf("[Chat] Turn %d abandoned", turn.id)
	c.publish(Update{TurnID: turn.id, State: StateIdle})
}

func (c *Controller) preconditionLocked() error {
	switch {
	case c.credential == "":
		return ErrCredentialMissing
	case !credential.IsValidFormat(c.credential):
		return ErrCredentialInvalidFormat
	case c.sessionID == "":
		return ErrSessionMissing
	}
	return nil
}

func (c *Controller) requestLocked() Request {
	wire := make([]WireMessage, 0, len(c.messages)+1)
	if c.systemPrompt != "" {
		wire = append(wire, WireMessage{Role: RoleSystem, Content: c.systemPrompt})
	}
	for i, m := range c.messages {
		// Failed exchanges stay visible locally but are never sent upstream.
		if m.Fallback || (i+1 < len(c.messages) && c.messages[i+1].Fallback) {
			continue
		}
		wire = append(wire, WireMessage{Role: m.Role, Content: m.Content})
	}

	return Request{
		SessionID:      c.sessionID,
		Messages:       wire,
		Credential:     c.credential,
		CredentialMeta: credential.Describe(c.credential),
		Stream:         true,
	}
}

func (c *Controller) run(turn *Turn, req Request) {
	defer close(turn.done)
	defer turn.closeReader()

	stop := context.AfterFunc(turn.ctx, turn.closeReader)
	defer stop()

	resp, err := c.transport.Open(turn.ctx, req)
	if err != nil {
		c.fail(turn, err)
		return
	}

	if !resp.Streamed {
		if !c.transition(turn, StateStreaming) || !c.appendToken(turn, resp.Content) {
			return
		}
		c.finalize(turn)
		return
	}

	var body io.Reader
	if resp.Body != nil {
		body = resp.Body
		turn.setReader(resp.Body)
	}
	dec, err := stream.NewDecoder(body)
	if err != nil {
		c.fail(turn, err)
		return
	}

	if !c.transition(turn, StateStreaming) {
		return
	}

	for dec.Next() {
		if !c.appendToken(turn, dec.Token()) {
			return
		}
	}
	if err := dec.Err(); err != nil {
		if ctxErr := turn.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		c.fail(turn, err)
		return
	}
	if dec.SawDone() {
		c.logf("[Chat] Turn %d: stream finished with [DONE]", turn.id)
	}

	c.finalize(turn)
}

// transition moves the current turn to state. It reports false once the turn
// is no longer current.
func (c *Controller) transition(turn *Turn, state State) bool {
	c.mu.Lock()
	if c.current != turn {
		c.mu.Unlock()
		return false
	}
	c.state = state
	text := turn.text
	c.mu.Unlock()

	c.publish(Update{TurnID: turn.id, State: state, Text: text})
	return true
}

func (c *Controller) appendToken(turn *Turn, tok stream.Token) bool {
	c.mu.Lock()
	if c.current != turn {
		c.mu.Unlock()
		return false
	}
	turn.text = textfmt.Append(turn.text, tok)
	text := turn.text
	c.mu.Unlock()

	c.publish(Update{TurnID: turn.id, State: StateStreaming, Text: text})

	if c.speculative && turn.speculated == nil && calendar.Detect(text) {
		if cand, ok := calendar.Extract(text); ok {
			turn.speculated = cand
			c.logf("[Chat] Turn %d: calendar event seen while streaming", turn.id)
		}
	}
	return true
}

func (c *Controller) finalize(turn *Turn) {
	if !c.transition(turn, StateFinalizing) {
		return
	}

	c.mu.Lock()
	raw := turn.text
	c.mu.Unlock()

	if strings.TrimSpace(raw) == "" {
		c.fail(turn, ErrEmptyResponse)
		return
	}

	final := textfmt.Normalize(raw)
	msg := NewMessage(RoleAssistant, final)
	msg.CalendarEvent = c.extractEvent(turn, final, raw)

	c.mu.Lock()
	if c.current != turn {
		c.mu.Unlock()
		return
	}
	c.messages = append(c.messages, msg)
	c.state = StateCompleted
	turn.text = ""
	turn.finish(msg, nil)
	snapshot := append([]Message(nil), c.messages...)
	c.mu.Unlock()

	c.publish(Update{TurnID: turn.id, State: StateCompleted, Text: final, Message: &msg})

	if c.recorder != nil {
		if err := c.recorder.Record(snapshot); err != nil {
			c.logf("[Chat] Failed to save conversation: %v", err)
		}
	}

	c.toIdle(turn)
}

// extractEvent runs the extractor once over the normalized text, falling
// back to the raw text since normalization can split JSON strings.
func (c *Controller) extractEvent(turn *Turn, final, raw string) *calendar.Event {
	cand, ok := calendar.Extract(final)
	if !ok {
		cand, ok = calendar.Extract(raw)
	}
	if !ok && turn.speculated != nil {
		cand, ok = turn.speculated, true
	}
	if !ok {
		return nil
	}

	ev, err := calendar.Adapt(cand)
	if err != nil {
		c.logf("[Chat] Turn %d: ignoring calendar event: %v", turn.id, err)
		return nil
	}
	return &ev
}

func (c *Controller) fail(turn *Turn, err error) {
	c.mu.Lock()
	if c.current != turn {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	turn.text = ""
	msg := newFallback(err)
	c.messages = append(c.messages, msg)
	turn.finish(msg, err)
	c.mu.Unlock()

	c.logf("[Chat] Turn %d failed: %v", turn.id, err)
	c.publish(Update{TurnID: turn.id, State: StateFailed, Message: &msg, Err: err, Notice: noticeFor(err)})

	c.toIdle(turn)
}

func (c *Controller) toIdle(turn *Turn) {
	c.mu.Lock()
	if c.current != turn {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.publish(Update{TurnID: turn.id, State: StateIdle})
}

func (c *Controller) publish(u Update) {
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(u)
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Turn is the handle for one submission.
type Turn struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// text is the accumulated reply, guarded by the controller's mutex.
	text       string
	speculated *calendar.Candidate

	mu       sync.Mutex
	reader   io.Closer
	closed   bool
	finished bool
	message  Message
	err      error
}

func newTurn(parent context.Context, id uint64) *Turn {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Turn{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID increases with every accepted submission.
func (t *Turn) ID() uint64 {
	return t.id
}

// Done is closed once the turn's goroutine has exited and its reader is closed.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Err is nil for a completed turn, the failure cause for a failed one and
// ErrTurnAbandoned for an abandoned one.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Message returns the assistant message the turn appended.
func (t *Turn) Message() Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

func (t *Turn) finish(msg Message, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	t.message = msg
	t.err = err
}

func (t *Turn) setReader(r io.Closer) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = r.Close()
		return
	}
	t.reader = r
	t.mu.Unlock()
}

func (t *Turn) closeReader() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	r := t.reader
	t.mu.Unlock()

	if r != nil {
		_ = r.Close()
	}
	t.cancel()
}
