package api

import (
	"time"

	"github.com/mattjoyce/clirelay/internal/audit"
)

// Envelope is the {data, error} payload used for listings and routing errors.
type Envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	CommandsLoaded   int    `json:"commands_loaded"`
	InFlight         int64  `json:"in_flight"`
	Invocations      int64  `json:"invocations"`
	EventSubscribers int    `json:"event_subscribers"`
	EventsDropped    int64  `json:"events_dropped"`
}

// HistoryEntry is one invocation as listed by GET /api/1/cli/history.
type HistoryEntry struct {
	InvocationID string            `json:"invocation_id"`
	CommandID    string            `json:"command_id"`
	Method       string            `json:"method"`
	RemoteAddr   string            `json:"remote_addr,omitempty"`
	Params       map[string]string `json:"params"`
	HasBody      bool              `json:"has_body"`
	Status       string            `json:"status"`
	ExitCode     *int              `json:"exit_code"`
	Selected     string            `json:"selected"`
	ContentType  string            `json:"content_type"`
	Summary      string            `json:"summary"`
	StartedAt    time.Time         `json:"started_at"`
	DurationMS   int64             `json:"duration_ms"`
}

func historyEntry(e audit.Entry) HistoryEntry {
	return HistoryEntry{
		InvocationID: e.ID,
		CommandID:    e.CommandID,
		Method:       e.Method,
		RemoteAddr:   e.RemoteAddr,
		Params:       e.Params,
		HasBody:      e.HasBody,
		Status:       string(e.Status),
		ExitCode:     e.ExitCode,
		Selected:     e.Selected,
		ContentType:  e.ContentType,
		Summary:      e.Summary,
		StartedAt:    e.StartedAt,
		DurationMS:   e.Duration.Milliseconds(),
	}
}
