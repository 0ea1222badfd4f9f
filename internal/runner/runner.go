package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/clirelay/internal/log"
)

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const terminationGracePeriod = 5 * time.Second

// Spec is everything needed to launch one process.
type Spec struct {
	Executable string
	Args       []string
	Stdin      *string // nil: child stdin is /dev/null
	Dir        string
	Env        map[string]string // merged over the current environment
	Timeout    time.Duration     // 0: wait indefinitely
}

// Completion is the captured outcome of a process that ran.
type Completion struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Canceled  bool
	Truncated bool
	PID       int
	Duration  time.Duration
}

// SpawnError reports that the executable could not be launched (not found,
// not executable, permission denied). It is distinct from a process that ran
// and exited non-zero.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return e.Err.Error()
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Runner launches processes. It holds no per-invocation state and is safe for
// concurrent use.
type Runner struct {
	logger         *slog.Logger
	maxOutputBytes int
	gracePeriod    time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMaxOutputBytes caps each of stdout and stderr. n <= 0 means unbounded.
func WithMaxOutputBytes(n int) Option {
	return func(r *Runner) { r.maxOutputBytes = n }
}

// WithGracePeriod overrides the SIGTERM to SIGKILL delay.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) { r.gracePeriod = d }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger:      log.WithComponent("runner"),
		gracePeriod: terminationGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run spawns spec.Executable and blocks until it exits, the timeout fires or
// ctx is done. Only the calling goroutine waits; concurrent calls are
// independent.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Completion, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(spec.Env)
	// Own process group so termination reaches grandchildren holding our pipes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Bound the wait for pipes held open by orphaned grandchildren.
	cmd.WaitDelay = r.gracePeriod

	stdout := &cappedBuffer{limit: r.maxOutputBytes}
	stderr := &cappedBuffer{limit: r.maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	if spec.Stdin != nil {
		var err error
		if stdin, err = cmd.StdinPipe(); err != nil {
			return nil, &SpawnError{Executable: spec.Executable, Err: fmt.Errorf("create stdin pipe: %w", err)}
		}
	}

	r.logger.Debug("spawning process", "executable", spec.Executable, "args", spec.Args, "timeout", spec.Timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if stdin != nil {
			_ = stdin.Close()
		}
		return nil, &SpawnError{Executable: spec.Executable, Err: err}
	}

	if stdin != nil {
		payload := *spec.Stdin
		go func() {
			defer stdin.Close()
			// The child may exit without reading; EPIPE is expected then.
			if _, err := io.WriteString(stdin, payload); err != nil {
				r.logger.Debug("stdin write interrupted", "executable", spec.Executable, "error", err)
			}
		}()
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	c := &Completion{PID: cmd.Process.Pid}
	var err error
	select {
	case err = <-waitErr:
	case <-timeoutC:
		r.logger.Warn("process timed out, sending SIGTERM", "executable", spec.Executable, "pid", c.PID, "timeout", spec.Timeout)
		err = r.terminate(cmd, waitErr)
		c.TimedOut = true
	case <-ctx.Done():
		r.logger.Warn("invocation canceled, sending SIGTERM", "executable", spec.Executable, "pid", c.PID, "error", ctx.Err())
		err = r.terminate(cmd, waitErr)
		c.Canceled = true
	}

	c.Duration = time.Since(start)
	c.Stdout = stdout.String()
	c.Stderr = stderr.String()
	c.Truncated = stdout.truncated || stderr.truncated

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		c.ExitCode = 0
	case errors.As(err, &exitErr):
		c.ExitCode = exitErr.ExitCode()
	default:
		c.ExitCode = -1
		c.Stderr = appendLine(c.Stderr, fmt.Sprintf("wait for process: %v", err))
	}

	switch {
	case c.TimedOut:
		c.Stderr = appendLine(c.Stderr, fmt.Sprintf("process timed out after %s", spec.Timeout))
	case c.Canceled:
		c.Stderr = appendLine(c.Stderr, fmt.Sprintf("process canceled: %v", ctx.Err()))
	}

	return c, nil
}

// terminate sends SIGTERM to the process group, then SIGKILL after the grace
// period, and returns the eventual Wait result.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error) error {
	pgid := -cmd.Process.Pid
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		r.logger.Error("failed to send SIGTERM", "pid", cmd.Process.Pid, "error", err)
	}

	grace := time.NewTimer(r.gracePeriod)
	defer grace.Stop()

	select {
	case err := <-waitErr:
		r.logger.Info("process exited after SIGTERM", "pid", cmd.Process.Pid)
		return err
	case <-grace.C:
		r.logger.Warn("process did not exit after SIGTERM, sending SIGKILL", "pid", cmd.Process.Pid)
		if err := unix.Kill(pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			r.logger.Error("failed to send SIGKILL", "pid", cmd.Process.Pid, "error", err)
		}
		return <-waitErr
	}
}

func mergeEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // inherit
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func appendLine(s, line string) string {
	if s != "" && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s + line
}

// cappedBuffer accumulates up to limit bytes (unbounded when limit <= 0) and
// silently discards the rest so the child never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - b.buf.Len()
	if len(p) > remaining {
		if remaining > 0 {
			b.buf.Write(p[:remaining])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
