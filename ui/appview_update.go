package ui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"lumen/calendar"
	"lumen/chat"
	"lumen/config"
)

const (
	noticeDuration  = 4 * time.Second
	scheduleTimeout = 30 * time.Second
)

// copyToClipboard is swapped out in tests.
var copyToClipboard = clipboard.WriteAll

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

		// Title, separator, textarea and status bar.
		a.viewport.Width = a.width
		a.viewport.Height = max(a.height-3-a.textarea.Height(), 1)
		a.textarea.SetWidth(a.width)

		a.ready = true
		a.refreshViewport(true)
		return a, a.renderAllMarkdown()

	case tea.KeyMsg:
		return a.handleKey(msg)

	case controllerUpdatesMsg:
		cmds := a.applyUpdates(msg)
		cmds = append(cmds, a.updates.wait())
		return a, tea.Batch(cmds...)

	case markdownRenderedMsg:
		// Drop renders made for a width the window no longer has.
		if msg.Width == a.contentWidth() {
			a.rendered[msg.MessageID] = msg.Rendered
			a.refreshViewport(false)
		}
		return a, nil

	case eventScheduledMsg:
		a.scheduling = ""
		if msg.Err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[UI] Scheduling event failed: %v", msg.Err)
			}
			a.refreshViewport(false)
			cmd := a.setNotice(scheduleFailureNotice(msg.Err))
			return a, cmd
		}
		a.scheduled[msg.MessageID] = msg.Result
		a.refreshViewport(false)
		cmd := a.setNotice("Event added to your calendar")
		return a, cmd

	case noticeExpiredMsg:
		if msg.seq == a.noticeSeq {
			a.notice = ""
		}
		return a, nil

	case spinner.TickMsg:
		// Let the tick chain die once nothing is waiting.
		if !a.busy() {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		if a.streaming == "" {
			a.refreshViewport(false)
		}
		return a, cmd
	}

	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	return a, cmd
}

func (a AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	pressed := msg.String()
	kb := a.keys

	if pressed == "ctrl+c" || pressed == kb.GetActionKey("quit") {
		a.controller.Abandon()
		return a, tea.Quit
	}

	if a.showModal {
		if pressed == "enter" || pressed == "esc" {
			a.showModal = false
		}
		return a, nil
	}

	if a.showHelp {
		if pressed == "esc" || pressed == kb.GetActionKey("help") {
			a.showHelp = false
		}
		return a, nil
	}

	switch pressed {
	case kb.GetActionKey("send"):
		return a.submit()
	case kb.GetActionKey("new_conversation"):
		return a.newConversation()
	case kb.GetActionKey("schedule_event"):
		return a.scheduleLastEvent()
	case kb.GetActionKey("yank_last_response"):
		return a.copyLastResponse()
	case kb.GetActionKey("yank_conversation"):
		return a.copyConversation()
	case kb.GetActionKey("clear_input"):
		a.textarea.Reset()
		return a, nil
	case kb.GetActionKey("scroll_up"):
		a.viewport.HalfPageUp()
		return a, nil
	case kb.GetActionKey("scroll_down"):
		a.viewport.HalfPageDown()
		return a, nil
	case kb.GetActionKey("help"):
		a.showHelp = true
		return a, nil
	}

	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	return a, cmd
}

func (a AppView) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(a.textarea.Value())
	if input == "" {
		return a, nil
	}

	turn, err := a.controller.Submit(context.Background(), input)
	switch {
	case errors.Is(err, chat.ErrTurnInProgress):
		// Keep the draft so it can be sent once the reply is in.
		cmd := a.setNotice("Still answering, wait for the reply to finish")
		return a, cmd
	case err != nil:
		// The rejection and its fallback reply arrive as controller updates.
		a.textarea.Reset()
		return a, nil
	}

	a.turnID = turn.ID()
	a.textarea.Reset()
	return a, nil
}

func (a AppView) newConversation() (tea.Model, tea.Cmd) {
	a.controller.Reset()
	if a.recorder != nil {
		a.recorder.Reset()
	}

	a.turnID = 0
	a.state = a.controller.State()
	a.streaming = ""
	a.messages = a.controller.Messages()
	a.scheduling = ""
	a.textarea.Reset()
	a.refreshViewport(true)
	cmd := a.setNotice("Started a new conversation")
	return a, cmd
}

func (a AppView) scheduleLastEvent() (tea.Model, tea.Cmd) {
	msg, ok := lastEventMessage(a.messages)
	switch {
	case !ok:
		cmd := a.setNotice("No calendar event in this conversation")
		return a, cmd
	case a.scheduler == nil:
		cmd := a.setNotice("Sign in with `lumen login` to use your calendar")
		return a, cmd
	case a.scheduling != "":
		return a, nil
	}
	if _, done := a.scheduled[msg.ID]; done {
		cmd := a.setNotice("That event is already on your calendar")
		return a, cmd
	}

	a.scheduling = msg.ID
	a.refreshViewport(false)
	return a, scheduleEvent(a.scheduler, msg.ID, *msg.CalendarEvent)
}

func scheduleEvent(s calendar.Scheduler, messageID string, ev calendar.Event) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), scheduleTimeout)
		defer cancel()

		result, err := s.Schedule(ctx, ev)
		return eventScheduledMsg{MessageID: messageID, Result: result, Err: err}
	}
}

func scheduleFailureNotice(err error) string {
	var statusErr *calendar.StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusForbidden {
		return "Calendar access expired, run `lumen login` again"
	}
	return "Could not add the event: " + err.Error()
}

func (a AppView) copyLastResponse() (tea.Model, tea.Cmd) {
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role != chat.RoleAssistant {
			continue
		}
		if err := copyToClipboard(a.messages[i].Content); err != nil {
			cmd := a.setNotice("Copy failed: " + err.Error())
			return a, cmd
		}
		cmd := a.setNotice("Copied last response")
		return a, cmd
	}
	cmd := a.setNotice("Nothing to copy yet")
	return a, cmd
}

func (a AppView) copyConversation() (tea.Model, tea.Cmd) {
	if len(a.messages) == 0 {
		cmd := a.setNotice("Nothing to copy yet")
		return a, cmd
	}

	var b strings.Builder
	for i, m := range a.messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s:\n%s", m.Timestamp.Format("15:04"), roleLabel(m.Role), m.Content)
	}

	if err := copyToClipboard(b.String()); err != nil {
		cmd := a.setNotice("Copy failed: " + err.Error())
		return a, cmd
	}
	cmd := a.setNotice(fmt.Sprintf("Copied %d messages", len(a.messages)))
	return a, cmd
}

// applyUpdates folds a batch of controller updates into the view. Updates
// of a turn other than the current one are stale and skipped; rejections
// made before a turn started carry TurnID 0.
func (a *AppView) applyUpdates(batch []chat.Update) []tea.Cmd {
	var cmds []tea.Cmd
	startSpinner := false

	for _, u := range batch {
		if u.TurnID != 0 && u.TurnID != a.turnID {
			continue
		}

		wasBusy := a.busy()
		a.state = u.State

		switch u.State {
		case chat.StateSending:
			a.streaming = ""
			if !wasBusy {
				startSpinner = true
			}
		case chat.StateStreaming:
			a.streaming = u.Text
		case chat.StateCompleted:
			a.streaming = ""
			if u.Message != nil && a.markdown {
				cmds = append(cmds, renderMarkdown(u.Message.ID, u.Message.Content, a.contentWidth()))
			}
		case chat.StateFailed:
			a.streaming = ""
			if chat.IsCredentialError(u.Err) {
				a.showModal = true
				a.modalTitle = "API key missing or invalid"
				a.modalMsg = "Store a key that starts with \"sk-\":\n\nlumen key set"
			}
		case chat.StateIdle:
			a.streaming = ""
		}

		if u.Notice != "" {
			cmds = append(cmds, a.setNotice(u.Notice))
		}
	}

	if startSpinner {
		cmds = append(cmds, a.spinner.Tick)
	}

	a.messages = a.controller.Messages()
	a.refreshViewport(true)
	return cmds
}

func (a *AppView) setNotice(text string) tea.Cmd {
	a.noticeSeq++
	a.notice = text
	seq := a.noticeSeq
	return tea.Tick(noticeDuration, func(time.Time) tea.Msg {
		return noticeExpiredMsg{seq: seq}
	})
}

func lastEventMessage(messages []chat.Message) (chat.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].CalendarEvent != nil {
			return messages[i], true
		}
	}
	return chat.Message{}, false
}
