// ABOUTME: Queue and dead-letter list views for the TUI
// ABOUTME: Tabbed tables with collection filtering and manual sync controls
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/agencysync/models"
)

var (
	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)
)

func (m Model) renderListView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("AGENCYSYNC"))
	s.WriteString("\n")
	s.WriteString(m.renderStatusBar())
	s.WriteString("\n\n")

	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	if m.filtering || m.filter.Value() != "" {
		s.WriteString("Filter: " + m.filter.View())
		s.WriteString("\n\n")
	}

	s.WriteString(m.renderTable())
	s.WriteString("\n\n")

	s.WriteString(m.renderActivity())
	s.WriteString(m.renderListHelp())

	return s.String()
}

func (m Model) renderStatusBar() string {
	var parts []string
	if m.status.Online {
		parts = append(parts, onlineStyle.Render("● online"))
	} else {
		parts = append(parts, offlineStyle.Render("● offline"))
	}
	if m.syncing {
		parts = append(parts, m.spinner.View()+" syncing")
	}
	parts = append(parts, fmt.Sprintf("%d pending", m.status.Pending))
	parts = append(parts, fmt.Sprintf("%d dead", m.status.DeadLetters))
	if m.status.LastSync != nil {
		parts = append(parts, "last sync "+formatTimeSince(*m.status.LastSync))
	} else {
		parts = append(parts, "never synced")
	}
	return strings.Join(parts, "  │  ")
}

func (m Model) renderTabs() string {
	tabs := []string{
		fmt.Sprintf("Pending (%d)", len(m.pending)),
		fmt.Sprintf("Dead letters (%d)", len(m.dead)),
	}
	var rendered []string

	for i, tab := range tabs {
		if Tab(i) == m.tab {
			rendered = append(rendered, tabActiveStyle.Render(tab))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(tab))
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderTable() string {
	var columns []table.Column
	var rows []table.Row

	switch m.tab {
	case TabPending:
		columns = []table.Column{
			{Title: "Collection", Width: 14},
			{Title: "ID", Width: 28},
			{Title: "Operation", Width: 10},
			{Title: "Queued", Width: 12},
			{Title: "Retries", Width: 8},
		}
		for _, item := range m.visiblePending() {
			rows = append(rows, table.Row{
				item.Collection,
				item.ID,
				string(item.Operation),
				formatTimeSince(item.QueuedAt()),
				fmt.Sprintf("%d", item.Retries),
			})
		}
	case TabDeadLetters:
		columns = []table.Column{
			{Title: "Collection", Width: 14},
			{Title: "ID", Width: 28},
			{Title: "Operation", Width: 10},
			{Title: "Failed", Width: 12},
			{Title: "Error", Width: 30},
		}
		for _, dl := range m.visibleDead() {
			rows = append(rows, table.Row{
				dl.Collection,
				dl.ID,
				string(dl.Operation),
				formatTimeSince(time.UnixMilli(dl.FailedAt)),
				dl.LastError,
			})
		}
	}

	if len(rows) == 0 {
		return messageStyle.Render("Nothing here.")
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(max(m.height-16, 3)),
	)

	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}

	return t.View()
}

func (m Model) renderActivity() string {
	if len(m.messages) == 0 {
		return ""
	}
	var s strings.Builder
	s.WriteString(headerStyle.Render("Recent Activity"))
	s.WriteString("\n")
	// Show last 5 messages
	start := max(len(m.messages)-5, 0)
	for _, msg := range m.messages[start:] {
		s.WriteString(messageStyle.Render("  " + msg))
		s.WriteString("\n")
	}
	return s.String()
}

func (m Model) renderListHelp() string {
	help := []string{
		"↑/↓: Navigate",
		"Tab: Switch tabs",
		"Enter: Details",
		"/: Filter",
		"s: Sync",
		"c: Check connection",
	}
	switch m.tab {
	case TabPending:
		help = append(help, "d: Remove")
	case TabDeadLetters:
		help = append(help, "r: Retry")
	}
	help = append(help, "q: Quit")
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case "down", "j":
		if m.selectedRow < m.rowCount()-1 {
			m.selectedRow++
		}
	case "tab":
		m.tab = (m.tab + 1) % 2
		m.selectedRow = 0
	case "enter":
		if m.rowCount() > 0 {
			m.viewMode = ViewDetail
		}
	case "/":
		m.filtering = true
		return m, m.filter.Focus()
	case "s":
		if !m.syncing {
			m.syncing = true
			return m, tea.Batch(m.syncCmd(), m.spinner.Tick)
		}
	case "c":
		return m, m.checkCmd()
	case "d":
		if m.tab == TabPending && m.rowCount() > 0 {
			m.viewMode = ViewConfirmDelete
		}
	case "r":
		if m.tab == TabDeadLetters && m.rowCount() > 0 {
			dl := m.visibleDead()[m.selectedRow]
			if err := m.engine.RetryDeadLetter(dl.ID, dl.Collection); err != nil {
				m.err = err
				m.addMessage("Retry failed: " + err.Error())
			} else {
				m.addMessage("Requeued " + dl.Key())
			}
			m.refresh()
		}
	}
	return m, nil
}

func (m Model) handleFilterKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filtering = false
		m.filter.Blur()
		m.selectedRow = 0
		return m, nil
	case "esc":
		m.filtering = false
		m.filter.Blur()
		m.filter.SetValue("")
		m.selectedRow = 0
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	return m, cmd
}

func (m Model) visiblePending() []models.PendingItem {
	q := strings.TrimSpace(m.filter.Value())
	if q == "" {
		return m.pending
	}
	var out []models.PendingItem
	for _, item := range m.pending {
		if strings.Contains(item.Collection, q) {
			out = append(out, item)
		}
	}
	return out
}

func (m Model) visibleDead() []models.DeadLetter {
	q := strings.TrimSpace(m.filter.Value())
	if q == "" {
		return m.dead
	}
	var out []models.DeadLetter
	for _, dl := range m.dead {
		if strings.Contains(dl.Collection, q) {
			out = append(out, dl)
		}
	}
	return out
}

func (m Model) rowCount() int {
	if m.tab == TabDeadLetters {
		return len(m.visibleDead())
	}
	return len(m.visiblePending())
}

func formatTimeSince(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
