package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "WARN")
	l.Info("dropped")
	l.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"msg":"kept"`) {
		t.Fatalf("unexpected line: %s", lines[0])
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	return out
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("test-comp").Info("hello")

	out := decodeLine(t, &buf)
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithCommand("uptime").Info("command msg")

	out := decodeLine(t, &buf)
	if out["command_id"] != "uptime" {
		t.Errorf("Expected command_id 'uptime', got %v", out["command_id"])
	}
}

func TestWithInvocation(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithInvocation("inv-123").Info("invocation msg")

	out := decodeLine(t, &buf)
	if out["invocation_id"] != "inv-123" {
		t.Errorf("Expected invocation_id 'inv-123', got %v", out["invocation_id"])
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize("a\nb\r\nc"); got != "a b c" {
		t.Fatalf("newlines not folded: %q", got)
	}

	short := strings.Repeat("x", 130)
	if got := Summarize(short); got != short {
		t.Fatalf("short input changed: %q", got)
	}

	long := strings.Repeat("h", 100) + strings.Repeat("m", 50) + strings.Repeat("t", 30)
	want := strings.Repeat("h", 100) + " ... " + strings.Repeat("t", 30)
	if got := Summarize(long); got != want {
		t.Fatalf("Summarize(long) = %q, want %q", got, want)
	}

	multibyte := strings.Repeat("é", 200)
	got := Summarize(multibyte)
	if !strings.HasPrefix(got, strings.Repeat("é", 100)+" ... ") {
		t.Fatalf("multibyte input split mid-rune: %q", got)
	}
}
