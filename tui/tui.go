// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Live dashboard over the offline queue driven by engine events
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/models"
	offline "github.com/harperreed/agencysync/sync"
)

// maxMessages bounds the activity log.
const maxMessages = 50

// Engine is the engine surface the dashboard drives.
type Engine interface {
	Status() offline.Status
	Pending() []models.PendingItem
	DeadLetters() []models.DeadLetter
	Synchronize(ctx context.Context) bool
	CheckConnection(ctx context.Context) bool
	RemovePendingItem(id, collection string) (bool, error)
	RetryDeadLetter(id, collection string) error
}

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
	ViewConfirmDelete
)

// Tab selects which list is shown.
type Tab int

const (
	TabPending Tab = iota
	TabDeadLetters
)

// Model is the main bubbletea model
type Model struct {
	engine Engine
	events <-chan events.Event
	ctx    context.Context

	viewMode ViewMode
	tab      Tab

	// List view state
	selectedRow int
	filter      textinput.Model
	filtering   bool

	// Snapshot refreshed on every event
	status  offline.Status
	pending []models.PendingItem
	dead    []models.DeadLetter

	// Activity
	spinner  spinner.Model
	syncing  bool
	messages []string

	// UI state
	width  int
	height int
	err    error
}

// NewModel creates a dashboard over engine. events may be nil when no publisher is wired.
func NewModel(ctx context.Context, engine Engine, sub <-chan events.Event) Model {
	filter := textinput.New()
	filter.Placeholder = "collection"
	filter.CharLimit = 64

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	m := Model{
		engine:  engine,
		events:  sub,
		ctx:     ctx,
		filter:  filter,
		spinner: sp,
		width:   80,
		height:  24,
	}
	m.refresh()
	return m
}

// eventMsg wraps an engine event delivered to the program.
type eventMsg struct{ event events.Event }

// syncDoneMsg is sent when a manual pass returns.
type syncDoneMsg struct{ synced bool }

// checkDoneMsg is sent when a manual probe returns.
type checkDoneMsg struct{ online bool }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// waitForEvent blocks on the subscription; a closed channel ends the stream.
func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	ch := m.events
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: ev}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case eventMsg:
		m.applyEvent(msg.event)
		return m, m.waitForEvent()
	case syncDoneMsg:
		m.syncing = false
		if !msg.synced {
			m.addMessage("Nothing synced")
		}
		m.refresh()
		return m, nil
	case checkDoneMsg:
		if msg.online {
			m.addMessage("Backend reachable")
		} else {
			m.addMessage("Backend unreachable")
		}
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewList:
		return m.renderListView()
	case ViewDetail:
		return m.renderDetailView()
	case ViewConfirmDelete:
		return m.renderConfirmDeleteView()
	}
	return ""
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		return m.handleFilterKeys(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	// Delegate to view-specific handlers
	switch m.viewMode {
	case ViewList:
		return m.handleListKeys(msg)
	case ViewDetail:
		return m.handleDetailKeys(msg)
	case ViewConfirmDelete:
		return m.handleConfirmDeleteKeys(msg)
	}

	return m, nil
}

func (m *Model) applyEvent(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.NotificationData:
		m.addMessage(data.Message)
	case events.ConnectivityData:
		if data.Online {
			m.addMessage("Connection restored")
		} else {
			m.addMessage("Connection lost")
		}
	case events.SyncStartData:
		m.syncing = true
	case events.SyncEndData:
		m.syncing = false
	case events.DeadLetterData:
		m.addMessage("Dead letter: " + data.Item.Key())
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.status = m.engine.Status()
	m.pending = m.engine.Pending()
	m.dead = m.engine.DeadLetters()
	if n := m.rowCount(); m.selectedRow >= n {
		m.selectedRow = max(n-1, 0)
	}
}

func (m *Model) addMessage(msg string) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

func (m Model) syncCmd() tea.Cmd {
	engine, ctx := m.engine, m.ctx
	return func() tea.Msg {
		return syncDoneMsg{synced: engine.Synchronize(ctx)}
	}
}

func (m Model) checkCmd() tea.Cmd {
	engine, ctx := m.engine, m.ctx
	return func() tea.Msg {
		return checkDoneMsg{online: engine.CheckConnection(ctx)}
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)
)
