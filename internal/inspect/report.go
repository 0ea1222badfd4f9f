// Package inspect renders a single audited invocation, with the argument
// vector it ran and the command's preceding runs, for operators.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/clirelay/internal/audit"
)

// historyDepth is how many earlier runs of the same command are listed.
const historyDepth = 5

// Source is the read side of the invocation log.
type Source interface {
	Get(ctx context.Context, id string) (*audit.Entry, error)
	Recent(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// Report is the structured JSON representation of an invocation report.
type Report struct {
	InvocationID string            `json:"invocation_id"`
	CommandID    string            `json:"command_id"`
	Method       string            `json:"method"`
	RemoteAddr   string            `json:"remote_addr,omitempty"`
	Status       string            `json:"status"`
	ExitCode     *int              `json:"exit_code"`
	Selected     string            `json:"selected"`
	ContentType  string            `json:"content_type"`
	Params       map[string]string `json:"params"`
	HasBody      bool              `json:"has_body"`
	Args         []string          `json:"args"`
	Summary      string            `json:"summary"`
	Stderr       string            `json:"stderr,omitempty"`
	SpawnError   string            `json:"spawn_error,omitempty"`
	Truncated    bool              `json:"truncated"`
	StartedAt    time.Time         `json:"started_at"`
	DurationMS   int64             `json:"duration_ms"`
	Previous     []Run             `json:"previous"`
}

// Run is one earlier invocation of the same command.
type Run struct {
	InvocationID string    `json:"invocation_id"`
	Status       string    `json:"status"`
	ExitCode     *int      `json:"exit_code"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
}

// BuildReport renders a terminal-friendly report for one invocation.
func BuildReport(ctx context.Context, src Source, invocationID string) (string, error) {
	report, err := gatherReportData(ctx, src, invocationID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Invocation Report\n")
	fmt.Fprintf(&out, "Invocation  : %s\n", report.InvocationID)
	fmt.Fprintf(&out, "Command     : %s\n", report.CommandID)
	fmt.Fprintf(&out, "Request     : %s from %s\n", report.Method, renderUnset(report.RemoteAddr, "<local>"))
	fmt.Fprintf(&out, "Status      : %s (exit %s)\n", report.Status, renderExit(report.ExitCode))
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %dms\n", report.DurationMS)
	fmt.Fprintf(&out, "Response    : %s via %s\n", report.ContentType, report.Selected)
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Parameters\n")
	if len(report.Params) == 0 {
		fmt.Fprintf(&out, "    <none>\n")
	} else {
		keys := make([]string, 0, len(report.Params))
		for k := range report.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&out, "    %s = %q\n", k, report.Params[k])
		}
	}
	if report.HasBody {
		fmt.Fprintf(&out, "    <request body present>\n")
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Arguments\n")
	fmt.Fprintf(&out, "    %s\n", renderUnset(shellJoin(report.Args), "<none>"))
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Output\n")
	fmt.Fprintf(&out, "    summary    : %s\n", renderUnset(report.Summary, "<empty>"))
	if report.Truncated {
		fmt.Fprintf(&out, "    truncated  : yes\n")
	}
	if report.SpawnError != "" {
		fmt.Fprintf(&out, "    spawn error: %s\n", report.SpawnError)
	}
	if report.Stderr != "" {
		fmt.Fprintf(&out, "    stderr     :\n")
		for _, line := range strings.Split(strings.TrimRight(report.Stderr, "\n"), "\n") {
			fmt.Fprintf(&out, "      %s\n", line)
		}
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Previous runs of %s\n", report.CommandID)
	if len(report.Previous) == 0 {
		fmt.Fprintf(&out, "    <none>\n")
	}
	for _, run := range report.Previous {
		fmt.Fprintf(&out, "    %s  %s  %-12s exit %-4s %dms\n",
			run.StartedAt.Format(time.RFC3339), run.InvocationID, run.Status, renderExit(run.ExitCode), run.DurationMS)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, invocationID string) (string, error) {
	report, err := gatherReportData(ctx, src, invocationID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, invocationID string) (*Report, error) {
	if strings.TrimSpace(invocationID) == "" {
		return nil, fmt.Errorf("invocation id is required")
	}

	e, err := src.Get(ctx, invocationID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		InvocationID: e.ID,
		CommandID:    e.CommandID,
		Method:       e.Method,
		RemoteAddr:   e.RemoteAddr,
		Status:       string(e.Status),
		ExitCode:     e.ExitCode,
		Selected:     e.Selected,
		ContentType:  e.ContentType,
		Params:       e.Params,
		HasBody:      e.HasBody,
		Args:         e.Args,
		Summary:      e.Summary,
		Truncated:    e.Truncated,
		StartedAt:    e.StartedAt,
		DurationMS:   e.Duration.Milliseconds(),
		Previous:     make([]Run, 0),
	}
	if e.Stderr != nil {
		report.Stderr = *e.Stderr
	}
	if e.SpawnError != nil {
		report.SpawnError = *e.SpawnError
	}
	recent, err := src.Recent(ctx, audit.Filter{CommandID: e.CommandID, Limit: 100})
	if err != nil {
		return nil, fmt.Errorf("load command history: %w", err)
	}
	for _, r := range recent {
		if r.ID == e.ID || !r.StartedAt.Before(e.StartedAt) {
			continue
		}
		report.Previous = append(report.Previous, Run{
			InvocationID: r.ID,
			Status:       string(r.Status),
			ExitCode:     r.ExitCode,
			StartedAt:    r.StartedAt,
			DurationMS:   r.Duration.Milliseconds(),
		})
		if len(report.Previous) == historyDepth {
			break
		}
	}

	return report, nil
}

// shellJoin quotes args so the line can be pasted into a POSIX shell.
func shellJoin(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,@%+", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func renderExit(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
