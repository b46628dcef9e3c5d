package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

func (a AppView) renderHelpModal(width, height int) string {
	kb := a.keys

	green := lipgloss.NewStyle().
		Bold(true).
		Foreground(successColor)
	blue := lipgloss.NewStyle().Foreground(accentColor)

	title := green.Render("Lumen - Keyboard Shortcuts")
	if a.version != "" {
		title += DimStyle.Render(" " + a.version)
	}

	chatActions := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Chat"),
		fmt.Sprintf("• %-13s Send message", kb.DisplayActionKey("send")),
		"• Alt+Enter     New line",
		fmt.Sprintf("• %-13s New conversation", kb.DisplayActionKey("new_conversation")),
		fmt.Sprintf("• %-13s Clear input", kb.DisplayActionKey("clear_input")),
		fmt.Sprintf("• %-13s Scroll up", kb.DisplayActionKey("scroll_up")),
		fmt.Sprintf("• %-13s Scroll down", kb.DisplayActionKey("scroll_down")),
	)

	otherActions := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Actions"),
		fmt.Sprintf("• %-13s Add last event to calendar", kb.DisplayActionKey("schedule_event")),
		fmt.Sprintf("• %-13s Copy last response", kb.DisplayActionKey("yank_last_response")),
		fmt.Sprintf("• %-13s Copy conversation", kb.DisplayActionKey("yank_conversation")),
		fmt.Sprintf("• %-13s Toggle this help", kb.DisplayActionKey("help")),
		fmt.Sprintf("• %-13s Quit", kb.DisplayActionKey("quit")),
	)

	columnStyle := lipgloss.NewStyle().Width(48).PaddingLeft(4)

	twoColumns := lipgloss.JoinHorizontal(
		lipgloss.Top,
		columnStyle.Render(chatActions),
		columnStyle.Render(otherActions),
	)

	footer := DimStyle.Render(fmt.Sprintf("Press %s or Esc to close this help", kb.DisplayActionKey("help")))

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		twoColumns,
		"",
		footer,
	)

	helpBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1, 2)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, helpBox.Render(content))
}
