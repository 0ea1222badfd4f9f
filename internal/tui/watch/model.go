package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/clirelay/internal/events"
)

const eventLogSize = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health   HealthState
	state    *tracker
	eventLog []events.Event
	lastID   int64

	pulse    Pulse
	commands table.Model
	theme    Theme

	hubEvents chan events.Event
	now       func() time.Time

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		apiURL:    apiURL,
		state:     newTracker(),
		eventLog:  make([]events.Event, 0),
		commands:  newCommandTable(theme),
		theme:     theme,
		hubEvents: make(chan events.Event, 100),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
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
		m.commands, cmd = m.commands.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.commands.SetWidth(max(msg.Width-8, 20))

	case tickMsg:
		m.pulse.Decay(m.now())
		m.commands.SetRows(commandRows(m.state.sortedCommands(), m.now()))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}

		m.pulse.OnEvent(m.now())
		m.state.apply(e)
		m.commands.SetRows(commandRows(m.state.sortedCommands(), m.now()))

		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Version = msg.Version
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.CommandsLoaded = msg.CommandsLoaded
		m.health.InFlight = msg.InFlight
		m.health.Invocations = msg.Invocations
		m.health.EventsDropped = msg.EventsDropped
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// a new subscription only has to feed it.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing clirelay watch..."
	}
	now := m.now()

	header := renderHeader(m.health, m.pulse, m.theme, m.width, now)
	commands := renderCommands(m.commands, len(m.state.commands) == 0, m.theme, m.width)
	inFlight := renderInFlight(m.state.sortedInFlight(), m.theme, m.width, now)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll commands")

	parts := []string{header, commands, inFlight, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI against a running gateway and blocks until the user quits.
func Run(apiURL string) error {
	_, err := tea.NewProgram(New(apiURL)).Run()
	return err
}
