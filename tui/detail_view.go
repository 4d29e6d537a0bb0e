// ABOUTME: Detail view for a pending item or dead letter
// ABOUTME: Shows metadata and the indented JSON body
package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/agencysync/models"
)

var (
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(12)

	bodyStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m Model) renderDetailView() string {
	var s strings.Builder

	var item models.PendingItem
	var dead *models.DeadLetter
	switch m.tab {
	case TabPending:
		rows := m.visiblePending()
		if m.selectedRow >= len(rows) {
			return "Item no longer queued. Press Esc to go back."
		}
		item = rows[m.selectedRow]
	case TabDeadLetters:
		rows := m.visibleDead()
		if m.selectedRow >= len(rows) {
			return "Dead letter no longer present. Press Esc to go back."
		}
		dead = &rows[m.selectedRow]
		item = dead.PendingItem
	}

	s.WriteString(titleStyle.Render(item.Key()))
	s.WriteString("\n")
	s.WriteString(labelStyle.Render("Operation") + string(item.Operation) + "\n")
	s.WriteString(labelStyle.Render("Queued") + item.QueuedAt().Local().Format(time.DateTime) + "\n")
	s.WriteString(labelStyle.Render("Retries") + fmt.Sprintf("%d", item.Retries) + "\n")
	if dead != nil {
		s.WriteString(labelStyle.Render("Failed") + time.UnixMilli(dead.FailedAt).Local().Format(time.DateTime) + "\n")
		s.WriteString(labelStyle.Render("Error") + dead.LastError + "\n")
	}
	s.WriteString("\n")

	if len(item.Data) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, item.Data, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(item.Data)
		}
		s.WriteString(bodyStyle.Render(pretty.String()))
		s.WriteString("\n")
	}

	help := []string{"Esc: Back", "q: Quit"}
	if m.tab == TabPending {
		help = append([]string{"d: Remove"}, help...)
	}
	s.WriteString(helpStyle.Render(strings.Join(help, " • ")))
	return s.String()
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.viewMode = ViewList
	case "d":
		if m.tab == TabPending {
			m.viewMode = ViewConfirmDelete
		}
	}
	return m, nil
}
