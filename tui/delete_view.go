// ABOUTME: Remove confirmation view for TUI
// ABOUTME: Discards a pending mutation after an explicit confirmation
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	confirmBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2).
			Width(60).
			Align(lipgloss.Center)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	confirmButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("9")).
				Padding(0, 2).
				MarginRight(2)

	cancelButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("8")).
				Padding(0, 2)
)

func (m Model) renderConfirmDeleteView() string {
	rows := m.visiblePending()
	if m.selectedRow >= len(rows) {
		return "Item no longer queued. Press Esc to go back."
	}
	item := rows[m.selectedRow]

	title := warningStyle.Render("⚠  DISCARD PENDING CHANGE  ⚠")
	message := fmt.Sprintf("Discard the queued %s of %s?", item.Operation, item.Key())
	warning := "\nThe change will never reach the backend."

	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		confirmButtonStyle.Render("Yes, Discard (y)"),
		cancelButtonStyle.Render("Cancel (n/esc)"),
	)

	content := lipgloss.JoinVertical(lipgloss.Center, title, "", message, warning, "", buttons)
	return confirmBoxStyle.Render(content)
}

func (m Model) handleConfirmDeleteKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		rows := m.visiblePending()
		if m.selectedRow < len(rows) {
			item := rows[m.selectedRow]
			if _, err := m.engine.RemovePendingItem(item.ID, item.Collection); err != nil {
				m.err = err
				m.addMessage("Remove failed: " + err.Error())
			} else {
				m.addMessage("Discarded " + item.Key())
			}
		}
		m.viewMode = ViewList
		m.refresh()
	case "n", "N", "esc":
		m.viewMode = ViewList
	}
	return m, nil
}
