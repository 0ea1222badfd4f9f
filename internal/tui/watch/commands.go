package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/clirelay/internal/events"
)

// CommandState aggregates the invocations of one command seen on the stream.
type CommandState struct {
	ID           string
	Running      int
	Runs         int
	Failures     int
	Rejected     int
	LastStatus   string
	LastExitCode *int
	LastDuration time.Duration
	LastRun      time.Time
}

// InvocationState tracks one in-flight invocation.
type InvocationState struct {
	ID        string
	CommandID string
	Args      []string
	StartTime time.Time
}

// tracker folds invocation events into per-command and in-flight state.
type tracker struct {
	commands map[string]*CommandState
	inFlight map[string]*InvocationState
}

func newTracker() *tracker {
	return &tracker{
		commands: make(map[string]*CommandState),
		inFlight: make(map[string]*InvocationState),
	}
}

func (t *tracker) command(id string) *CommandState {
	c, ok := t.commands[id]
	if !ok {
		c = &CommandState{ID: id}
		t.commands[id] = c
	}
	return c
}

// apply updates state for one event. Unknown event types are ignored.
func (t *tracker) apply(e events.Event) {
	switch e.Type {
	case events.TypeInvocationStarted:
		var p events.InvocationStarted
		if e.Decode(&p) != nil || p.InvocationID == "" {
			return
		}
		start := p.StartedAt
		if start.IsZero() {
			start = e.At
		}
		t.inFlight[p.InvocationID] = &InvocationState{
			ID:        p.InvocationID,
			CommandID: p.CommandID,
			Args:      p.Args,
			StartTime: start,
		}
		t.command(p.CommandID).Running++

	case events.TypeInvocationCompleted, events.TypeInvocationFailed:
		var p events.InvocationFinished
		if e.Decode(&p) != nil || p.CommandID == "" {
			return
		}
		c := t.command(p.CommandID)
		if _, ok := t.inFlight[p.InvocationID]; ok {
			delete(t.inFlight, p.InvocationID)
			if c.Running > 0 {
				c.Running--
			}
		}
		c.Runs++
		if p.Status != "succeeded" {
			c.Failures++
		}
		c.LastStatus = p.Status
		c.LastExitCode = p.ExitCode
		c.LastDuration = time.Duration(p.DurationMS) * time.Millisecond
		c.LastRun = e.At

	case events.TypeInvocationRejected:
		var p events.InvocationRejected
		if e.Decode(&p) != nil || p.CommandID == "" {
			return
		}
		t.command(p.CommandID).Rejected++
	}
}

func (t *tracker) sortedCommands() []*CommandState {
	out := make([]*CommandState, 0, len(t.commands))
	for _, c := range t.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tracker) sortedInFlight() []*InvocationState {
	out := make([]*InvocationState, 0, len(t.inFlight))
	for _, inv := range t.inFlight {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func newCommandTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Command", Width: 20},
			{Title: "Running", Width: 7},
			{Title: "Runs", Width: 6},
			{Title: "Failed", Width: 6},
			{Title: "Busy", Width: 5},
			{Title: "Last", Width: 12},
			{Title: "Exit", Width: 4},
			{Title: "Took", Width: 8},
			{Title: "When", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.Table)
	return t
}

func commandRows(cmds []*CommandState, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(cmds))
	for _, c := range cmds {
		exit, took, when := "-", "-", "-"
		if c.LastExitCode != nil {
			exit = fmt.Sprintf("%d", *c.LastExitCode)
		}
		if !c.LastRun.IsZero() {
			took = c.LastDuration.Round(time.Millisecond).String()
			when = formatAgo(now.Sub(c.LastRun))
		}
		rows = append(rows, table.Row{
			statusGlyph(c),
			c.ID,
			fmt.Sprintf("%d", c.Running),
			fmt.Sprintf("%d", c.Runs),
			fmt.Sprintf("%d", c.Failures),
			fmt.Sprintf("%d", c.Rejected),
			orDash(c.LastStatus),
			exit,
			took,
			when,
		})
	}
	return rows
}

func statusGlyph(c *CommandState) string {
	switch {
	case c.Running > 0:
		return "▶"
	case c.LastStatus == "succeeded":
		return "✓"
	case c.LastStatus == "":
		return "·"
	default:
		return "✗"
	}
}

func renderCommands(t table.Model, empty bool, theme Theme, width int) string {
	innerWidth := width - 4

	if empty {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("COMMANDS"),
			theme.Dim.Render("  No invocations yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("COMMANDS"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderInFlight(invs []*InvocationState, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	title := theme.Title.Render(fmt.Sprintf("IN FLIGHT (%d)", len(invs)))
	if len(invs) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  idle")))
	}

	lines := []string{title}
	for i, inv := range invs {
		if i >= 8 {
			lines = append(lines, theme.Dim.Render(fmt.Sprintf("  ... and %d more", len(invs)-i)))
			break
		}
		id := inv.ID
		if len(id) > 8 {
			id = id[:8]
		}
		args := strings.Join(inv.Args, " ")
		if len(args) > 40 {
			args = args[:40] + "..."
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s %s",
			theme.Highlight.Render(id),
			theme.StatusRunning.Render(inv.CommandID),
			args,
			theme.Dim.Render(now.Sub(inv.StartTime).Round(time.Second).String()),
		))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
