package output

import (
	"bytes"
	"encoding/json"
	"mime"
	"strings"

	"github.com/mattjoyce/clirelay/internal/template"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"

	// jsonIndent matches the gateway's envelope formatting.
	jsonIndent = "    "

	// spawnFailureCode is reported as %CODE% when the process never started.
	spawnFailureCode = 1
)

var (
	errorFallback  = template.String("Error: %STDERR%\nCode: %CODE%")
	stdoutFallback = template.String("%STDOUT%")
)

// Policy is a command's declarative output rule set. Nil templates are
// unconfigured.
type Policy struct {
	OnSuccess   *template.Template
	OnError     *template.Template
	ContentType string
}

// Outcome is what the runner produced: either a completion record or a spawn
// failure message.
type Outcome struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	SpawnFailure string
}

// Completed builds the outcome of a process that ran.
func Completed(stdout, stderr string, exitCode int) Outcome {
	return Outcome{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
}

// SpawnFailed builds the outcome of a process that could not be launched.
func SpawnFailed(msg string) Outcome {
	if msg == "" {
		msg = "spawn failed"
	}
	return Outcome{SpawnFailure: msg}
}

// Spawned reports whether the process was launched at all.
func (o Outcome) Spawned() bool {
	return o.SpawnFailure == ""
}

// Selection names which body template was chosen.
type Selection string

const (
	SelectedOnSuccess      Selection = "on_success"
	SelectedOnError        Selection = "on_error"
	SelectedErrorFallback  Selection = "error_fallback"
	SelectedStdoutFallback Selection = "stdout_fallback"
)

// Response is the materialized body and its MIME type.
type Response struct {
	Body        []byte
	ContentType string
	Selected    Selection
}

// Resolve picks a body template and content type for o under p and expands
// it. override is the caller-supplied content type, "" when absent. Resolve
// performs no I/O and returns identical bytes for identical inputs.
//
// Body template precedence:
//  1. spawn failure: on_error if configured, else the error fallback, with
//     %STDERR% bound to the failure message and %CODE% to 1
//  2. non-empty stderr and on_error configured: on_error
//  3. on_success if configured
//  4. error fallback if stderr is non-empty, else %STDOUT%
//
// Content type precedence: override, then policy content type, then
// application/json for structured templates, then text/plain.
func Resolve(p Policy, o Outcome, override string) Response {
	tmpl, result, sel := selectTemplate(p, o)
	ct := contentType(p, tmpl, override)

	value := template.Expand(tmpl, template.Bindings{Result: &result})
	return Response{
		Body:        serialize(value, ct),
		ContentType: ct,
		Selected:    sel,
	}
}

func selectTemplate(p Policy, o Outcome) (template.Template, template.Result, Selection) {
	if !o.Spawned() {
		result := template.Result{Stderr: o.SpawnFailure, Code: spawnFailureCode}
		if p.OnError != nil {
			return *p.OnError, result, SelectedOnError
		}
		return errorFallback, result, SelectedErrorFallback
	}

	result := template.Result{Stdout: o.Stdout, Stderr: o.Stderr, Code: o.ExitCode}
	switch {
	case o.Stderr != "" && p.OnError != nil:
		return *p.OnError, result, SelectedOnError
	case p.OnSuccess != nil:
		return *p.OnSuccess, result, SelectedOnSuccess
	case o.Stderr != "":
		return errorFallback, result, SelectedErrorFallback
	default:
		return stdoutFallback, result, SelectedStdoutFallback
	}
}

func contentType(p Policy, tmpl template.Template, override string) string {
	switch {
	case override != "":
		return override
	case p.ContentType != "":
		return p.ContentType
	case tmpl.IsStructured():
		return ContentTypeJSON
	default:
		return ContentTypeText
	}
}

// IsJSON reports whether ct names a JSON media type.
func IsJSON(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(ct))
	}
	return mt == ContentTypeJSON || strings.HasSuffix(mt, "+json")
}

// serialize renders structured values as indented JSON. Strings under a JSON
// media type are re-indented when they already hold valid JSON and encoded as
// a JSON string otherwise, so a JSON response is always parseable. Everything
// else is sent verbatim.
func serialize(value any, ct string) []byte {
	s, isString := value.(string)
	if isString && !IsJSON(ct) {
		return []byte(s)
	}
	if isString && json.Valid([]byte(s)) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(s), "", jsonIndent); err == nil {
			return buf.Bytes()
		}
	}
	b, err := MarshalIndent(value)
	if err != nil {
		b, _ = MarshalIndent(map[string]string{"error": "failed to encode response: " + err.Error()})
	}
	return b
}

// MarshalIndent encodes v as indented JSON without HTML escaping and without
// a trailing newline.
func MarshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", jsonIndent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
