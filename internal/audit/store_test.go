package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/clirelay/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "audit.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func intptr(i int) *int { return &i }

func TestRecordAndGet(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stderr := "warn"
	id, err := s.Record(ctx, Entry{
		CommandID:   "echo",
		Method:      "GET",
		RemoteAddr:  "127.0.0.1",
		Params:      map[string]string{"x": "a b"},
		Args:        []string{"a b"},
		Status:      StatusFailed,
		ExitCode:    intptr(2),
		Selected:    "on_error",
		ContentType: "text/plain",
		Summary:     "boom",
		Stderr:      &stderr,
		StartedAt:   started,
		Duration:    1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CommandID != "echo" || got.Status != StatusFailed || got.Params["x"] != "a b" {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 2 {
		t.Fatalf("unexpected exit code: %v", got.ExitCode)
	}
	if got.Stderr == nil || *got.Stderr != "warn" {
		t.Fatalf("unexpected stderr: %v", got.Stderr)
	}
	if !got.StartedAt.Equal(started) || !got.CompletedAt.Equal(started.Add(1500*time.Millisecond)) {
		t.Fatalf("unexpected timestamps: %v %v", got.StartedAt, got.CompletedAt)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected duration: %v", got.Duration)
	}
	if len(got.Args) != 1 || got.Args[0] != "a b" {
		t.Fatalf("unexpected args: %#v", got.Args)
	}
}

func TestRecordSpawnFailure(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	msg := "executable file not found"
	id, err := s.Record(ctx, Entry{
		ID:          "fixed-id",
		CommandID:   "missing",
		Method:      "GET",
		Status:      StatusSpawnFailed,
		Selected:    "error_fallback",
		ContentType: "text/plain",
		SpawnError:  &msg,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id != "fixed-id" {
		t.Fatalf("expected caller id to be kept, got %q", id)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExitCode != nil {
		t.Fatalf("expected nil exit code, got %d", *got.ExitCode)
	}
	if got.SpawnError == nil || *got.SpawnError != msg {
		t.Fatalf("unexpected spawn error: %v", got.SpawnError)
	}
	if got.Params == nil || got.Args == nil {
		t.Fatalf("expected empty, non-nil params and args: %#v", got)
	}
}

func TestRecordValidates(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	if _, err := s.Record(context.Background(), Entry{Status: StatusSucceeded}); err == nil {
		t.Fatal("expected error for empty command id")
	}
	if _, err := s.Record(context.Background(), Entry{CommandID: "x"}); err == nil {
		t.Fatal("expected error for empty status")
	}
}

func TestRecordTruncatesStderr(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	big := strings.Repeat("e", maxStderrBytes+10)
	id, err := s.Record(ctx, Entry{CommandID: "x", Method: "GET", Status: StatusFailed, Stderr: &big})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(*got.Stderr) != maxStderrBytes {
		t.Fatalf("expected stderr capped at %d, got %d", maxStderrBytes, len(*got.Stderr))
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentOrderingAndFilters(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, rec := range []struct {
		cmd    string
		status Status
	}{
		{"a", StatusSucceeded},
		{"b", StatusFailed},
		{"a", StatusFailed},
		{"a", StatusSucceeded},
	} {
		_, err := s.Record(ctx, Entry{
			ID:        string(rune('1' + i)),
			CommandID: rec.cmd,
			Method:    "GET",
			Status:    rec.status,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	all, err := s.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 4 || all[0].ID != "4" || all[3].ID != "1" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}

	onlyA, err := s.Recent(ctx, Filter{CommandID: "a", Limit: 2})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got := ids(onlyA); strings.Join(got, ",") != "4,3" {
		t.Fatalf("unexpected filtered ids: %v", got)
	}

	failed, err := s.Recent(ctx, Filter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got := ids(failed); strings.Join(got, ",") != "3,2" {
		t.Fatalf("unexpected failed ids: %v", got)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, started := range []time.Time{now.Add(-48 * time.Hour), now.Add(-time.Hour)} {
		if _, err := s.Record(ctx, Entry{CommandID: "x", Method: "GET", Status: StatusSucceeded, StartedAt: started}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}

	left, err := s.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(left) != 1 {
		t.Fatalf("expected 1 remaining row, got %d", len(left))
	}
}

func TestRecentOrdersWithinOneSecond(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, rec := range []struct {
		id     string
		offset time.Duration
	}{
		{"p51", 510 * time.Millisecond},
		{"p50", 500 * time.Millisecond},
		{"p00", 0},
		{"p10", 100 * time.Millisecond},
	} {
		_, err := s.Record(ctx, Entry{ID: rec.id, CommandID: "x", Method: "GET", Status: StatusSucceeded, StartedAt: base.Add(rec.offset)})
		if err != nil {
			t.Fatalf("Record %s: %v", rec.id, err)
		}
	}

	all, err := s.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got := strings.Join(ids(all), ","); got != "p51,p50,p10,p00" {
		t.Fatalf("expected newest first, got %s", got)
	}
	if !all[3].StartedAt.Equal(base) {
		t.Fatalf("started_at round trip: got %s, want %s", all[3].StartedAt, base)
	}

	n, err := s.Prune(ctx, base.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", n)
	}
	left, err := s.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got := strings.Join(ids(left), ","); got != "p51,p50" {
		t.Fatalf("unexpected rows after prune: %s", got)
	}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
