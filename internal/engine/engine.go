package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/clirelay/internal/audit"
	"github.com/mattjoyce/clirelay/internal/command"
	"github.com/mattjoyce/clirelay/internal/events"
	"github.com/mattjoyce/clirelay/internal/log"
	"github.com/mattjoyce/clirelay/internal/output"
	"github.com/mattjoyce/clirelay/internal/runner"
)

// ErrBusy is returned when max_concurrent invocations are already in flight.
var ErrBusy = errors.New("too many concurrent invocations")

// Request is one invocation as received from a front end.
type Request struct {
	CommandID   string
	Params      map[string]string
	Body        *string
	ContentType string // per-request override, "" when absent

	// Method and RemoteAddr are recorded in the audit log only.
	Method     string
	RemoteAddr string
}

// Result is the materialized response of one invocation.
type Result struct {
	InvocationID string
	CommandID    string
	Response     output.Response
	Status       audit.Status
	ExitCode     *int
	Args         []string
	Truncated    bool
	Duration     time.Duration
}

// Engine wires resolution, argument building, process execution and output
// resolution. It is safe for concurrent use; invocations share nothing but the
// immutable registry.
type Engine struct {
	registry  *command.Registry
	runner    Runner
	recorder  Recorder
	publisher Publisher
	logger    *slog.Logger

	slots    chan struct{} // nil: unlimited
	inFlight atomic.Int64
	total    atomic.Int64
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder persists every finished invocation.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPublisher emits lifecycle events.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMaxConcurrent bounds in-flight invocations. n <= 0 means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.slots = make(chan struct{}, n)
		} else {
			e.slots = nil
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over an immutable registry.
func New(reg *command.Registry, r Runner, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		runner:   r,
		logger:   log.WithComponent("engine"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's command registry.
func (e *Engine) Registry() *command.Registry {
	return e.registry
}

// InFlight reports the number of invocations currently running.
func (e *Engine) InFlight() int64 {
	return e.inFlight.Load()
}

// Total reports the number of invocations started since the engine was created.
func (e *Engine) Total() int64 {
	return e.total.Load()
}

// Invoke runs one command end to end. The returned error is non-nil only when
// no process was attempted: it wraps command.ErrInvalidID, command.ErrNotFound
// or is ErrBusy. Spawn failures and failing commands are reported through the
// Result like any other outcome.
func (e *Engine) Invoke(ctx context.Context, req Request) (*Result, error) {
	def, err := e.registry.Resolve(req.CommandID)
	if err != nil {
		e.logger.Debug("command rejected", "command_id", req.CommandID, "error", err)
		return nil, err
	}

	if e.slots != nil {
		select {
		case e.slots <- struct{}{}:
			defer func() { <-e.slots }()
		default:
			e.publish(events.TypeInvocationRejected, events.InvocationRejected{CommandID: def.ID, Reason: ErrBusy.Error()})
			e.logger.Warn("invocation rejected", "command_id", def.ID, "error", ErrBusy, "max_concurrent", cap(e.slots))
			return nil, fmt.Errorf("%s: %w", def.ID, ErrBusy)
		}
	}

	id := uuid.NewString()
	logger := log.WithInvocation(id).With("command_id", def.ID)

	inv := command.Build(def, command.Request{Params: req.Params, Body: req.Body})
	started := e.now()

	e.inFlight.Add(1)
	e.total.Add(1)
	defer e.inFlight.Add(-1)

	e.publish(events.TypeInvocationStarted, events.InvocationStarted{
		InvocationID: id,
		CommandID:    def.ID,
		Args:         inv.Args,
		HasStdin:     inv.Stdin != nil,
		StartedAt:    started.UTC(),
	})
	logger.Debug("spawning command", "executable", def.Executable, "args", inv.Args, "has_stdin", inv.Stdin != nil)

	completion, runErr := e.runner.Run(ctx, runner.Spec{
		Executable: def.Executable,
		Args:       inv.Args,
		Stdin:      inv.Stdin,
		Dir:        def.Spawn.Dir,
		Env:        def.Spawn.Env,
		Timeout:    def.Spawn.Timeout,
	})

	res := &Result{
		InvocationID: id,
		CommandID:    def.ID,
		Args:         inv.Args,
	}

	var outcome output.Outcome
	if runErr != nil || completion == nil {
		msg := "spawn failed"
		if runErr != nil {
			msg = runErr.Error()
		}
		outcome = output.SpawnFailed(msg)
		res.Status = audit.StatusSpawnFailed
	} else {
		outcome = output.Completed(completion.Stdout, completion.Stderr, completion.ExitCode)
		code := completion.ExitCode
		res.ExitCode = &code
		res.Truncated = completion.Truncated
		res.Status = classify(completion)
	}

	res.Response = output.Resolve(def.Output, outcome, req.ContentType)
	res.Duration = e.now().Sub(started)

	summary := log.Summarize(string(res.Response.Body))
	attrs := []any{
		"status", res.Status,
		"content_type", res.Response.ContentType,
		"selected", res.Response.Selected,
		"duration_ms", res.Duration.Milliseconds(),
		"summary", summary,
	}
	if res.ExitCode != nil {
		attrs = append(attrs, "exit_code", *res.ExitCode)
	}
	if runErr != nil {
		attrs = append(attrs, "error", runErr)
		logger.Warn("invocation spawn failed", attrs...)
	} else {
		logger.Info("invocation completed", attrs...)
	}

	e.record(ctx, logger, req, res, outcome, summary, started)

	finished := events.InvocationFinished{
		InvocationID: id,
		CommandID:    def.ID,
		Status:       string(res.Status),
		ExitCode:     res.ExitCode,
		Selected:     string(res.Response.Selected),
		ContentType:  res.Response.ContentType,
		Summary:      summary,
		DurationMS:   res.Duration.Milliseconds(),
	}
	if runErr != nil {
		finished.Error = outcome.SpawnFailure
		e.publish(events.TypeInvocationFailed, finished)
	} else {
		e.publish(events.TypeInvocationCompleted, finished)
	}

	return res, nil
}

func (e *Engine) record(ctx context.Context, logger *slog.Logger, req Request, res *Result, o output.Outcome, summary string, started time.Time) {
	if e.recorder == nil {
		return
	}

	entry := audit.Entry{
		ID:          res.InvocationID,
		CommandID:   res.CommandID,
		Method:      req.Method,
		RemoteAddr:  req.RemoteAddr,
		Params:      req.Params,
		HasBody:     req.Body != nil,
		Args:        res.Args,
		Status:      res.Status,
		ExitCode:    res.ExitCode,
		Selected:    string(res.Response.Selected),
		ContentType: res.Response.ContentType,
		Summary:     summary,
		Truncated:   res.Truncated,
		StartedAt:   started.UTC(),
		CompletedAt: started.Add(res.Duration).UTC(),
		Duration:    res.Duration,
	}
	if entry.Method == "" {
		entry.Method = "LOCAL"
	}
	if o.Spawned() {
		if o.Stderr != "" {
			stderr := o.Stderr
			entry.Stderr = &stderr
		}
	} else {
		msg := o.SpawnFailure
		entry.SpawnError = &msg
	}

	// The invocation already happened; a disconnected client must not lose the record.
	if _, err := e.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to record invocation", "error", err)
	}
}

func (e *Engine) publish(eventType string, data any) {
	if e.publisher != nil {
		e.publisher.Publish(eventType, data)
	}
}

func classify(c *runner.Completion) audit.Status {
	switch {
	case c.TimedOut:
		return audit.StatusTimedOut
	case c.Canceled:
		return audit.StatusCanceled
	case c.Stderr != "":
		return audit.StatusFailed
	default:
		return audit.StatusSucceeded
	}
}
