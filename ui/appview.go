// Package ui is the terminal chat client: a bubbletea program that drives a
// chat.Controller and renders its conversation.
package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lumen/calendar"
	"lumen/chat"
	"lumen/config"
	"lumen/credential"
	"lumen/storage"
)

// Options wires the chat screen to its collaborators. Controller is
// required; a nil Recorder disables saving and a nil Scheduler disables
// adding events to the calendar.
type Options struct {
	Controller  *chat.Controller
	Recorder    *storage.Recorder
	Scheduler   calendar.Scheduler
	Keybindings *config.KeyBindingsConfig
	Markdown    bool
	Account     string
	KeyMeta     credential.Meta
	Version     string
}

type AppView struct {
	controller *chat.Controller
	recorder   *storage.Recorder
	scheduler  calendar.Scheduler
	keys       *config.KeyBindingsConfig
	markdown   bool
	account    string
	keyMeta    credential.Meta
	version    string

	updates *updateQueue

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	// Conversation as last published by the controller.
	messages  []chat.Message
	state     chat.State
	turnID    uint64
	streaming string

	// Keyed by message id.
	rendered   map[string]string
	scheduled  map[string]calendar.Scheduled
	scheduling string

	notice    string
	noticeSeq int

	showHelp   bool
	showModal  bool
	modalTitle string
	modalMsg   string
}

func NewAppView(opts Options) AppView {
	kb := opts.Keybindings
	if kb == nil {
		kb = config.DefaultKeybindings()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask anything, or ask me to put something on your calendar..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)

	// Enter sends; Alt+Enter inserts a newline.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = AssistantStyle

	updates := newUpdateQueue()
	opts.Controller.Subscribe(updates.push)

	return AppView{
		controller: opts.Controller,
		recorder:   opts.Recorder,
		scheduler:  opts.Scheduler,
		keys:       kb,
		markdown:   opts.Markdown,
		account:    opts.Account,
		keyMeta:    opts.KeyMeta,
		version:    opts.Version,
		updates:    updates,
		viewport:   viewport.New(0, 0),
		textarea:   ta,
		spinner:    sp,
		messages:   opts.Controller.Messages(),
		state:      opts.Controller.State(),
		rendered:   make(map[string]string),
		scheduled:  make(map[string]calendar.Scheduled),
	}
}

// Run starts the chat screen and blocks until the user quits.
func Run(a AppView) error {
	if _, err := tea.NewProgram(a, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("chat screen failed: %w", err)
	}
	return nil
}

func (a AppView) Init() tea.Cmd {
	// Markdown waits for the first WindowSizeMsg, which carries the width.
	return tea.Batch(textarea.Blink, a.updates.wait())
}

func (a AppView) View() string {
	if !a.ready {
		return "Loading Lumen..."
	}

	if a.showModal {
		return RenderAcknowledgeModal(a.modalTitle, a.modalMsg, ModalTypeError, a.width, a.height)
	}

	if a.showHelp {
		return a.renderHelpModal(a.width, a.height)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		a.renderTitle(),
		"",
		a.viewport.View(),
		a.textarea.View(),
		a.renderStatusBar(),
	)
}

func (a AppView) busy() bool {
	switch a.state {
	case chat.StateSending, chat.StateStreaming, chat.StateFinalizing:
		return true
	}
	return false
}

func (a AppView) sessionName() string {
	if a.recorder != nil {
		if name := a.recorder.Session().Name; name != "" {
			return name
		}
	}
	return "New conversation"
}
