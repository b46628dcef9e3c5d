package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrPassphraseCancelled is returned by PromptPassphrase when the user
// pressed Esc or Ctrl+C.
var ErrPassphraseCancelled = errors.New("passphrase entry cancelled")

const emptyPassphraseError = "Passphrase cannot be empty"

// PassphraseModal prompts for the passphrase of an encrypted SSH key.
type PassphraseModal struct {
	keyPath   string
	input     textinput.Model
	err       string
	width     int
	height    int
	cancelled bool
}

func NewPassphraseModal(keyPath string) PassphraseModal {
	input := newPassphraseInput("Enter passphrase")
	input.Focus()

	return PassphraseModal{
		keyPath: keyPath,
		input:   input,
	}
}

// PromptPassphrase runs a standalone passphrase prompt before the chat
// screen starts.
func PromptPassphrase(keyPath string) (string, error) {
	final, err := tea.NewProgram(NewPassphraseModal(keyPath), tea.WithAltScreen()).Run()
	if err != nil {
		return "", fmt.Errorf("passphrase prompt failed: %w", err)
	}

	m := final.(PassphraseModal)
	if m.IsCancelled() {
		return "", ErrPassphraseCancelled
	}
	return m.Passphrase(), nil
}

func (m PassphraseModal) Init() tea.Cmd {
	return textinput.Blink
}

func (m PassphraseModal) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit

		case "enter":
			if m.input.Value() == "" {
				m.err = emptyPassphraseError
				return m, nil
			}
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m PassphraseModal) View() string {
	return renderPassphraseModal(
		"SSH Key Passphrase Required",
		m.keyPath,
		m.input,
		m.err,
		m.width,
		m.height,
	)
}

// Passphrase returns the entered passphrase (empty if cancelled)
func (m PassphraseModal) Passphrase() string {
	if m.cancelled {
		return ""
	}
	return m.input.Value()
}

func (m PassphraseModal) IsCancelled() bool {
	return m.cancelled
}

func newPassphraseInput(placeholder string) textinput.Model {
	input := textinput.New()
	input.Placeholder = placeholder
	input.Width = 50
	input.CharLimit = 200
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	return input
}

func renderPassphraseModal(title, keyPath string, input textinput.Model, errorMsg string, width, height int) string {
	// Nothing sensible fits before the first WindowSizeMsg.
	if width < 20 || height < 10 {
		return "Terminal too small"
	}

	modalWidth := 70
	if width < modalWidth+10 {
		modalWidth = max(width-10, 10)
	}

	blank := strings.Repeat(" ", modalWidth)
	lines := []string{
		centerTextLine("Your API key is encrypted with an SSH key.", modalWidth),
		centerTextLine("Key: "+keyPath, modalWidth),
		centerTextLine("Please enter the passphrase:", modalWidth),
		blank,
		centerTextLine(input.View(), modalWidth),
	}

	if errorMsg != "" {
		styledErr := lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true).
			Render("⚠ " + errorMsg)
		lines = append(lines, blank, centerTextLine(styledErr, modalWidth))
	}

	return RenderThreeSectionModal(
		title,
		lines,
		FormatFooter("Enter", "Continue", "Esc", "Cancel"),
		ModalTypeInfo,
		modalWidth,
		width,
		height,
	)
}

// centerTextLine centers a line of text within a given width
func centerTextLine(text string, width int) string {
	textWidth := lipgloss.Width(text)
	if textWidth >= width {
		return text
	}

	leftPad := (width - textWidth) / 2
	rightPad := width - textWidth - leftPad
	return strings.Repeat(" ", leftPad) + text + strings.Repeat(" ", rightPad)
}
