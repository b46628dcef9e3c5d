package ui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mattn/go-runewidth"

	"lumen/calendar"
	"lumen/chat"
	"lumen/config"
)

var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
)

const streamingCursor = "▋"

func (a *AppView) refreshViewport(gotoBottom bool) {
	if len(a.messages) == 0 && !a.busy() {
		a.viewport.SetContent(DimStyle.Render("No messages yet. Ask a question, or ask me to plan something for you."))
		return
	}

	var content strings.Builder
	for _, m := range a.messages {
		content.WriteString(a.renderMessage(m))
	}

	if a.busy() {
		body := a.spinner.View()
		if a.streaming != "" {
			body = a.wrap(a.streaming) + streamingCursor
		}
		header := DimStyle.Render(time.Now().Format("[15:04]")) + " " + AssistantStyle.Render(roleLabel(chat.RoleAssistant))
		fmt.Fprintf(&content, "%s\n%s\n\n", header, body)
	}

	a.viewport.SetContent(content.String())
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

func (a AppView) renderMessage(m chat.Message) string {
	timestamp := DimStyle.Render(m.Timestamp.Format("[15:04]"))

	roleStyle := DimStyle
	switch m.Role {
	case chat.RoleUser:
		roleStyle = UserStyle
	case chat.RoleAssistant:
		roleStyle = AssistantStyle
	}
	role := roleStyle.Render(roleLabel(m.Role))

	if m.Role == chat.RoleUser {
		return formatUserMessage(timestamp, role, a.wrapWidth(m.Content, a.contentWidth()-2))
	}

	body, ok := a.rendered[m.ID]
	if !ok {
		body = a.wrap(m.Content)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n%s\n", timestamp, role, strings.TrimRight(body, "\n"))
	if m.CalendarEvent != nil {
		b.WriteString(renderCalendarCard(*m.CalendarEvent, a.eventStatus(m.ID), a.contentWidth()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func formatUserMessage(timestamp, role, content string) string {
	bar := UserStyle.Render("┃")

	var result strings.Builder
	fmt.Fprintf(&result, "%s %s %s\n", bar, timestamp, role)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(&result, "%s %s\n", bar, line)
	}
	result.WriteString("\n")

	return result.String()
}

func (a AppView) eventStatus(messageID string) string {
	if result, ok := a.scheduled[messageID]; ok {
		if result.HTMLLink != "" {
			return "Added to your calendar: " + result.HTMLLink
		}
		return "Added to your calendar"
	}
	if a.scheduling == messageID {
		return a.spinner.View() + " Adding to your calendar..."
	}
	return a.keys.DisplayActionKey("schedule_event") + " to add it to your calendar"
}

func renderCalendarCard(ev calendar.Event, status string, width int) string {
	lines := []string{
		HighlightStyle.Render("📅 " + ev.Title),
		"When: " + formatEventTime(ev),
	}
	if ev.ReminderMinutes > 0 {
		lines = append(lines, fmt.Sprintf("Reminder: %d min before", ev.ReminderMinutes))
	}
	if ev.Description != "" {
		lines = append(lines, DimStyle.Render(ev.Description))
	}
	lines = append(lines, "", DimStyle.Render(status))

	cardWidth := min(max(width-4, 20), 64)
	return CalendarCardStyle.Width(cardWidth).Render(strings.Join(lines, "\n"))
}

// formatEventTime renders the event span. All-day events end at midnight
// after their last day.
func formatEventTime(ev calendar.Event) string {
	const day = "Mon Jan 2, 2006"

	if ev.AllDay {
		last := ev.End.Add(-24 * time.Hour)
		if !last.After(ev.Start) {
			return ev.Start.Format(day) + " (all day)"
		}
		return ev.Start.Format(day) + " - " + last.Format(day) + " (all day)"
	}

	if ev.Start.Format("2006-01-02") == ev.End.Format("2006-01-02") {
		return ev.Start.Format(day+" 15:04") + " - " + ev.End.Format("15:04")
	}
	return ev.Start.Format(day+" 15:04") + " - " + ev.End.Format(day+" 15:04")
}

func (a AppView) renderTitle() string {
	title := AssistantStyle.Render("Lumen") + TitleStyle.Render(" - "+a.sessionName())

	var details []string
	if a.account != "" {
		details = append(details, a.account)
	}
	if mask := a.keyMeta.Mask(); mask != "" {
		details = append(details, "key "+mask)
	} else {
		details = append(details, "no API key")
	}

	return title + DimStyle.Render(" | "+strings.Join(details, " | "))
}

// renderStatusBar shows the current notice, or the turn state, followed by
// key hints truncated to fit the window.
func (a AppView) renderStatusBar() string {
	kb := a.keys

	left := a.notice
	leftStyle := NoticeStyle
	if left == "" {
		leftStyle = StatusStyle
		left = stateLabel(a.state)
	}

	hints := []string{
		"Enter Send",
		kb.DisplayActionKey("new_conversation") + " New",
		kb.DisplayActionKey("schedule_event") + " Schedule",
		kb.DisplayActionKey("yank_last_response") + " Copy",
		kb.DisplayActionKey("help") + " Help",
		kb.DisplayActionKey("quit") + " Quit",
	}
	right := strings.Join(hints, "  ")

	width := max(a.width, 20)
	left = runewidth.Truncate(left, width, "…")
	avail := width - runewidth.StringWidth(left) - 2
	if avail <= 0 {
		return leftStyle.Render(left)
	}
	right = runewidth.Truncate(right, avail, "…")
	gap := width - runewidth.StringWidth(left) - runewidth.StringWidth(right)

	return leftStyle.Render(left) + strings.Repeat(" ", max(gap, 2)) + StatusStyle.Render(right)
}

func stateLabel(s chat.State) string {
	switch s {
	case chat.StateSending:
		return "Sending..."
	case chat.StateStreaming:
		return "Receiving..."
	case chat.StateFinalizing:
		return "Finishing reply..."
	default:
		return "Ready"
	}
}

func roleLabel(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "You"
	case chat.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}

func (a AppView) contentWidth() int {
	return max(a.width-4, 20)
}

func (a AppView) wrap(text string) string {
	return a.wrapWidth(text, a.contentWidth())
}

// wrapWidth word-wraps text without the padding lipgloss adds to short lines.
func (a AppView) wrapWidth(text string, width int) string {
	lines := strings.Split(lipgloss.NewStyle().Width(max(width, 10)).Render(text), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n")
}

// renderAllMarkdown re-renders every assistant message for the current width.
func (a AppView) renderAllMarkdown() tea.Cmd {
	if !a.markdown {
		return nil
	}

	var cmds []tea.Cmd
	for _, m := range a.messages {
		if m.Role == chat.RoleAssistant {
			cmds = append(cmds, renderMarkdown(m.ID, m.Content, a.contentWidth()))
		}
	}
	return tea.Batch(cmds...)
}

func renderMarkdown(messageID, content string, width int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()

		// [text](url) becomes the bare url so terminals can detect it.
		content = mdLinkRegex.ReplaceAllString(content, "$2")

		// Autolink off keeps plain URLs plain.
		p := parser.NewWithExtensions(markdown.Extensions() &^ parser.Autolink)
		doc := p.Parse([]byte(content))
		rendered := string(gomarkdown.Render(doc, markdown.NewRenderer(width, 0)))

		// Inline code: blue background becomes red text.
		rendered = inlineCodeRegex.ReplaceAllString(rendered, "\x1b[31m$1\x1b[0m")

		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] Rendered markdown for %s in %v", messageID, time.Since(start))
		}

		return markdownRenderedMsg{
			MessageID: messageID,
			Width:     width,
			Rendered:  rendered,
		}
	}
}
