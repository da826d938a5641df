package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/workitems/internal/events"
)

const maxEventLog = 50

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL    string
	apiKey    string
	workspace string

	width  int
	height int

	health     HealthState
	workspaces map[string]*WorkspaceState
	eventLog   []events.Event
	pulse      Pulse
	table      table.Model
	theme      Theme

	hubEvents chan events.Event
	lastID    *int64

	lastError string
}

// New creates a watch model for the server at apiURL. A non-empty workspace
// narrows the stream to that workspace.
func New(apiURL, apiKey, workspace string) *Model {
	return &Model{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		workspace:  workspace,
		workspaces: make(map[string]*WorkspaceState),
		hubEvents:  make(chan events.Event, 100),
		lastID:     new(int64),
		table:      newWorkspaceTable(),
		theme:      NewDefaultTheme(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) pollHealth(after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.workspace, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.pulse.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		m = m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.EventsDropped = msg.EventsDropped
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, m.pollHealth(5 * time.Second)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.workspace, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, m.pollHealth(5 * time.Second)
	}

	return m, nil
}

// applyEvent folds one lifecycle event into the model.
func (m Model) applyEvent(e events.Event) Model {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.pulse.OnEvent(time.Now())
	updateWorkspaceState(m.workspaces, e)
	m.table.SetRows(workspaceRows(m.workspaces))
	m.health.Connected = true
	m.lastError = ""
	return m
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to work queue..."
	}

	parts := []string{
		renderHeader(m.health, m.workspace, m.pulse, m.theme, m.width),
		renderWorkspaces(m.table, len(m.workspaces) == 0, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Workspaces"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
