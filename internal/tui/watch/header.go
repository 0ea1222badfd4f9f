package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks gateway health from /healthz polling.
type HealthState struct {
	Status         string
	Version        string
	UptimeSeconds  int64
	CommandsLoaded int
	InFlight       int64
	Invocations    int64
	EventsDropped  int64
	Connected      bool
	LastCheck      time.Time
}

func renderHeader(health HealthState, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEventStr := "never"
	if !pulse.LastEvent().IsZero() {
		lastEventStr = formatAgo(now.Sub(pulse.LastEvent()))
	}

	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := " CLIRELAY WATCH"
	if health.Version != "" {
		titleText += " " + theme.Dim.Render(health.Version)
	}

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Commands: %d  In flight: %d  Invocations: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.CommandsLoaded,
		health.InFlight,
		health.Invocations,
	)
	if health.EventsDropped > 0 {
		statsLine += theme.StatusFailed.Render(fmt.Sprintf("  Dropped events: %d", health.EventsDropped))
	}

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
