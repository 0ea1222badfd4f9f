package doctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/clirelay/internal/config"
	"github.com/mattjoyce/clirelay/internal/storage"
	"github.com/mattjoyce/clirelay/internal/template"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Service.MaxOutputBytes = 1 << 20
	cfg.Audit.Path = "/tmp/clirelay-test.db"
	cfg.Commands = map[string]config.CommandConf{
		"echo": {
			Executable: "echo",
			Args:       []string{"%PARAM{msg}%"},
		},
	}
	return cfg
}

// newDoctor resolves only "echo" and "sh" and treats every filesystem as local,
// so results do not depend on the host.
func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.lookPath = func(name string) (string, error) {
		switch name {
		case "echo", "sh":
			return "/bin/" + name, nil
		}
		return "", errors.New("executable file not found in $PATH")
	}
	d.checkFS = func(string) error { return nil }
	return d
}

func tmpl(t template.Template) *template.Template { return &t }

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_ExecutableNotFound(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["gone"] = config.CommandConf{Executable: "no-such-binary"}
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "commands", "no-such-binary")
}

func TestValidate_MissingWorkingDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["ls"] = config.CommandConf{Executable: "sh", Dir: filepath.Join(t.TempDir(), "missing")}
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "commands", "does not exist")
}

func TestValidate_ResultPlaceholderInArgs(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["bad"] = config.CommandConf{Executable: "sh", Args: []string{"-c", "echo %STDOUT%"}}
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("placeholder misuse should only warn, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "placeholders", "%STDOUT% is only expanded in output templates")
}

func TestValidate_SplitOutsideArgs(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["cat"] = config.CommandConf{
		Executable: "sh",
		Stdin:      "%PARAM{lines:split}%",
		Output: config.OutputConf{
			OnSuccess: tmpl(template.Map(template.F("x", template.String("%PARAM{y:split}%")))),
			OnError:   tmpl(template.String("%STDERR%")),
		},
	}
	r := newDoctor(cfg).Validate()

	var fields []string
	for _, w := range r.Warnings {
		if w.Category == "placeholders" {
			fields = append(fields, w.Field)
		}
	}
	if len(fields) != 2 || fields[0] != "commands.cat.stdin" || fields[1] != "commands.cat.output.on_success" {
		t.Fatalf("unexpected split warnings: %v", r.Warnings)
	}
}

func TestValidate_BodyAllowedEverywhere(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["cat"] = config.CommandConf{
		Executable: "sh",
		Args:       []string{"%BODY%"},
		Stdin:      "%BODY%",
		Output:     config.OutputConf{OnSuccess: tmpl(template.String("%BODY% %STDOUT% %CODE%"))},
	}
	r := newDoctor(cfg).Validate()
	if len(r.Warnings) != 0 || !r.Valid {
		t.Fatalf("expected clean result, got %+v", r)
	}
}

func TestValidate_InvalidContentType(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["echo"] = config.CommandConf{
		Executable: "echo",
		Output:     config.OutputConf{ContentType: "application/json; ="},
	}
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "output", "invalid content type")
}

func TestValidate_StructuredWithoutOnError(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["echo"] = config.CommandConf{
		Executable: "echo",
		Output:     config.OutputConf{OnSuccess: tmpl(template.Seq(template.String("%STDOUT%")))},
	}
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "output", "plain-text")
}

func TestValidate_NoCommands(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands = nil
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "commands", "no commands defined")
}

func TestValidate_EmptyEnvValue(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Commands["echo"] = config.CommandConf{Executable: "echo", Env: map[string]string{"TOKEN": ""}}
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "env_vars", "empty")
}

func TestValidate_APIChecks(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Listen = "0.0.0.0:8080"
	cfg.API.StaticDir = filepath.Join(t.TempDir(), "public")
	cfg.API.GRPCHealthListen = "nope"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "all interfaces")
	assertHasWarning(t, r, "api", "static_dir")
	assertHasError(t, r, "api", "invalid listen address")
}

func TestValidate_AuditDisabled(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	off := false
	cfg.Audit.Enabled = &off
	cfg.Audit.Path = ""
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("disabled audit should not require a path, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "audit", "disabled")
}

func TestValidate_AuditOnNetworkFilesystem(t *testing.T) {
	t.Parallel()
	d := newDoctor(validConfig())
	var checked string
	d.checkFS = func(path string) error {
		checked = path
		return fmt.Errorf("database %q is on network filesystem \"nfs\": %w", path, storage.ErrRemoteFilesystem)
	}
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if checked != "/tmp/clirelay-test.db" {
		t.Fatalf("checked %q", checked)
	}
	assertHasError(t, r, "audit", "network filesystem")
}

func TestValidate_NegativeRetention(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	neg := -time.Hour
	cfg.Audit.Retention = &neg
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "audit", "retention must be >= 0")
}

func TestValidate_UnboundedOutput(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Service.MaxOutputBytes = 0
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "service", "without a limit")
}

func TestValidate_Integrity(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("commands: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.Files = []string{path}
	assertHasWarning(t, newDoctor(cfg).Validate(), "integrity", "not locked")

	if _, err := config.LockFiles(cfg.Files, false); err != nil {
		t.Fatal(err)
	}
	if r := newDoctor(cfg).Validate(); !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("expected clean result after lock, got %+v", r)
	}

	if err := os.WriteFile(path, []byte("commands: {rm: {executable: rm}}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	assertHasError(t, newDoctor(cfg).Validate(), "integrity", "hash mismatch")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "iffy"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] iffy") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
