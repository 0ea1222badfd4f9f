// Package doctor validates clirelay configuration beyond what Load enforces:
// executables on PATH, placeholder placement, content types, the audit
// database filesystem and integrity.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/mattjoyce/clirelay/internal/config"
	"github.com/mattjoyce/clirelay/internal/storage"
	"github.com/mattjoyce/clirelay/internal/template"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	checkFS  func(string) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, checkFS: storage.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateAuditConfig(r)
	d.validateCommands(r)
	d.validateIntegrity(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	s := d.cfg.Service
	if s.MaxConcurrent < 0 {
		d.addError(r, "service", "service.max_concurrent", "max_concurrent must be >= 0")
	}
	if s.MaxOutputBytes < 0 {
		d.addError(r, "service", "service.max_output_bytes", "max_output_bytes must be >= 0")
	}
	if s.MaxOutputBytes == 0 {
		d.addWarning(r, "service", "service.max_output_bytes",
			"child output is buffered without a limit; set max_output_bytes to cap memory per invocation")
	}
	if s.PIDFile == "" {
		d.addWarning(r, "service", "service.pid_file", "no pid_file; a second instance will not be detected")
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	a := d.cfg.API
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", a.Listen, err))
	} else if host == "" || host == "0.0.0.0" || host == "::" {
		d.addWarning(r, "api", "api.listen",
			"listening on all interfaces; clirelay performs no caller authentication")
	}
	if a.MaxBodyBytes <= 0 {
		d.addError(r, "api", "api.max_body_bytes", "max_body_bytes must be positive")
	}
	if a.StaticDir != "" {
		if info, err := os.Stat(a.StaticDir); err != nil || !info.IsDir() {
			d.addWarning(r, "api", "api.static_dir",
				fmt.Sprintf("static_dir %q is not a directory; static files will not be served", a.StaticDir))
		}
	}
	if a.GRPCHealthListen != "" {
		if _, _, err := net.SplitHostPort(a.GRPCHealthListen); err != nil {
			d.addError(r, "api", "api.grpc_health_listen",
				fmt.Sprintf("invalid listen address %q: %v", a.GRPCHealthListen, err))
		}
	}
}

func (d *Doctor) validateAuditConfig(r *Result) {
	if !d.cfg.Audit.IsEnabled() {
		d.addWarning(r, "audit", "audit.enabled", "audit log disabled; invocation history will not be kept")
		return
	}
	if d.cfg.Audit.Path == "" {
		d.addError(r, "audit", "audit.path", "audit.path is required when the audit log is enabled")
	} else if d.cfg.Audit.Path != ":memory:" {
		if err := d.checkFS(d.cfg.Audit.Path); errors.Is(err, storage.ErrRemoteFilesystem) {
			d.addError(r, "audit", "audit.path", err.Error())
		}
	}
	if d.cfg.Audit.RetentionPeriod() < 0 {
		d.addError(r, "audit", "audit.retention", "retention must be >= 0")
	}
}

func (d *Doctor) validateCommands(r *Result) {
	if len(d.cfg.Commands) == 0 {
		d.addWarning(r, "commands", "commands", "no commands defined; every run request will 404")
		return
	}

	ids := make([]string, 0, len(d.cfg.Commands))
	for id := range d.cfg.Commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cc := d.cfg.Commands[id]
		field := "commands." + id

		if cc.Executable == "" {
			d.addError(r, "commands", field+".executable", "executable is required")
		} else if _, err := d.lookPath(cc.Executable); err != nil {
			d.addError(r, "commands", field+".executable",
				fmt.Sprintf("executable %q not found: %v", cc.Executable, err))
		}

		if cc.Dir != "" {
			if info, err := os.Stat(cc.Dir); err != nil || !info.IsDir() {
				d.addError(r, "commands", field+".dir", fmt.Sprintf("working directory %q does not exist", cc.Dir))
			}
		}

		for k, v := range cc.Env {
			if v == "" {
				d.addWarning(r, "env_vars", fmt.Sprintf("%s.env.%s", field, k),
					"value is empty (possibly unresolved environment variable)")
			}
		}

		for i, arg := range cc.Args {
			d.checkPlaceholders(r, fmt.Sprintf("%s.args[%d]", field, i), arg, placeArg)
		}
		if cc.Stdin != "" {
			d.checkPlaceholders(r, field+".stdin", cc.Stdin, placeStdin)
		}
		d.checkOutput(r, field+".output", cc.Output)
	}
}

type placement int

const (
	placeArg placement = iota
	placeStdin
	placeOutput
)

func (d *Doctor) checkPlaceholders(r *Result, field, s string, where placement) {
	for _, p := range template.Scan(s) {
		switch {
		case !p.Param && p.Name != "BODY" && where != placeOutput:
			d.addWarning(r, "placeholders", field,
				fmt.Sprintf("%s is only expanded in output templates and will be passed literally", p.Raw))
		case p.Split && where != placeArg:
			d.addWarning(r, "placeholders", field,
				fmt.Sprintf("%s: the split modifier only applies to args and is ignored here", p.Raw))
		case p.Param && p.Name == "":
			d.addWarning(r, "placeholders", field, fmt.Sprintf("%s names no parameter and always expands empty", p.Raw))
		}
	}
}

func (d *Doctor) checkOutput(r *Result, field string, oc config.OutputConf) {
	if oc.ContentType != "" {
		if _, _, err := mime.ParseMediaType(oc.ContentType); err != nil {
			d.addError(r, "output", field+".content_type",
				fmt.Sprintf("invalid content type %q: %v", oc.ContentType, err))
		}
	}
	for _, tt := range []struct {
		name string
		t    *template.Template
	}{{"on_success", oc.OnSuccess}, {"on_error", oc.OnError}} {
		if tt.t == nil {
			continue
		}
		for _, s := range tt.t.Strings() {
			d.checkPlaceholders(r, field+"."+tt.name, s, placeOutput)
		}
	}
	if oc.OnError == nil && oc.OnSuccess != nil && oc.OnSuccess.IsStructured() {
		d.addWarning(r, "output", field+".on_error",
			"structured on_success without on_error; failures fall back to a plain-text body")
	}
}

func (d *Doctor) validateIntegrity(r *Result) {
	if len(d.cfg.Files) == 0 {
		return
	}
	res := config.VerifyIntegrity(d.cfg.Files)
	for _, e := range res.Errors {
		d.addError(r, "integrity", "", e)
	}
	for _, w := range res.Warnings {
		d.addWarning(r, "integrity", "", w)
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
