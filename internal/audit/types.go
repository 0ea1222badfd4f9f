package audit

import (
	"errors"
	"time"
)

// Status is the terminal classification of one invocation.
type Status string

const (
	StatusSucceeded   Status = "succeeded"    // ran, empty stderr
	StatusFailed      Status = "failed"       // ran, non-empty stderr
	StatusSpawnFailed Status = "spawn_failed" // never started
	StatusTimedOut    Status = "timed_out"
	StatusCanceled    Status = "canceled"
)

var ErrNotFound = errors.New("invocation not found")

// Entry is one row of the invocation log.
type Entry struct {
	ID          string
	CommandID   string
	Method      string
	RemoteAddr  string
	Params      map[string]string
	HasBody     bool
	Args        []string
	Status      Status
	ExitCode    *int // nil for spawn failures
	Selected    string
	ContentType string
	Summary     string
	Stderr      *string
	SpawnError  *string
	Truncated   bool
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Filter narrows Recent.
type Filter struct {
	CommandID string
	Status    Status
	Limit     int
}
