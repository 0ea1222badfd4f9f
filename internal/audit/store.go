package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxStderrBytes = 64 * 1024

	defaultLimit = 50
	maxLimit     = 1000

	// timeLayout is fixed width so started_at sorts and compares as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store persists invocation records in the invocation_log table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends e to the log. An empty ID is replaced by a fresh UUID; the
// stored ID is returned.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.CommandID == "" {
		return "", fmt.Errorf("command_id is empty")
	}
	if e.Status == "" {
		return "", fmt.Errorf("status is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = e.StartedAt.Add(e.Duration)
	}

	params, err := json.Marshal(nonNilParams(e.Params))
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	args, err := json.Marshal(nonNilArgs(e.Args))
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}

	var stderrVal any
	if e.Stderr != nil {
		stderrVal = truncate(*e.Stderr, maxStderrBytes)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO invocation_log(
  id, command_id, method, remote_addr, params, has_body, args, status, exit_code, selected,
  content_type, summary, stderr, spawn_error, truncated, started_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.CommandID, e.Method, nullString(e.RemoteAddr), string(params), e.HasBody, string(args), e.Status, e.ExitCode,
		e.Selected, e.ContentType, e.Summary, stderrVal, e.SpawnError, e.Truncated,
		e.StartedAt.UTC().Format(timeLayout), e.CompletedAt.UTC().Format(timeLayout), e.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("record invocation: %w", err)
	}
	return e.ID, nil
}

// Get loads one entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM invocation_log WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return e, nil
}

// Recent returns entries newest first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		where []string
		args  []any
	)
	if f.CommandID != "" {
		where = append(where, "command_id = ?")
		args = append(args, f.CommandID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	q := `SELECT ` + columns + ` FROM invocation_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at DESC, rowid DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return out, nil
}

// Prune deletes entries that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocation_log WHERE started_at < ?;`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	return n, nil
}

const columns = `id, command_id, method, remote_addr, params, has_body, args, status, exit_code, selected,
  content_type, summary, stderr, spawn_error, truncated, started_at, completed_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e            Entry
		remoteAddr   sql.NullString
		paramsS      string
		argsS        string
		statusS      string
		exitCode     sql.NullInt64
		stderr       sql.NullString
		spawnError   sql.NullString
		startedAtS   string
		completedAtS string
		durationMS   int64
	)
	err := sc.Scan(
		&e.ID, &e.CommandID, &e.Method, &remoteAddr, &paramsS, &e.HasBody, &argsS, &statusS, &exitCode, &e.Selected,
		&e.ContentType, &e.Summary, &stderr, &spawnError, &e.Truncated, &startedAtS, &completedAtS, &durationMS,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(statusS)
	e.RemoteAddr = remoteAddr.String
	if err := json.Unmarshal([]byte(paramsS), &e.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := json.Unmarshal([]byte(argsS), &e.Args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	if stderr.Valid {
		e.Stderr = &stderr.String
	}
	if spawnError.Valid {
		e.SpawnError = &spawnError.String
	}
	if t, err := time.Parse(timeLayout, startedAtS); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(timeLayout, completedAtS); err == nil {
		e.CompletedAt = t
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return &e, nil
}

func nonNilParams(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilArgs(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
