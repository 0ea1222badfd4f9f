package events

import "time"

// Invocation lifecycle event types.
const (
	TypeInvocationStarted   = "invocation.started"
	TypeInvocationCompleted = "invocation.completed"
	TypeInvocationFailed    = "invocation.spawn_failed"
	TypeInvocationRejected  = "invocation.rejected"
)

// InvocationStarted is published once the argument vector is built, before spawn.
type InvocationStarted struct {
	InvocationID string    `json:"invocation_id"`
	CommandID    string    `json:"command_id"`
	Args         []string  `json:"args"`
	HasStdin     bool      `json:"has_stdin"`
	StartedAt    time.Time `json:"started_at"`
}

// InvocationFinished is the payload of completed and spawn_failed events.
type InvocationFinished struct {
	InvocationID string `json:"invocation_id"`
	CommandID    string `json:"command_id"`
	Status       string `json:"status"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	Selected     string `json:"selected"`
	ContentType  string `json:"content_type"`
	Summary      string `json:"summary"`
	DurationMS   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

// InvocationRejected is published when an invocation is refused before spawn.
type InvocationRejected struct {
	CommandID string `json:"command_id"`
	Reason    string `json:"reason"`
}
