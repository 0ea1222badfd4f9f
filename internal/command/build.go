package command

import (
	"strings"

	"github.com/mattjoyce/clirelay/internal/template"
)

// Request is the per-invocation parameter binding.
type Request struct {
	Params map[string]string
	Body   *string // nil when the request carried no body
}

// Invocation is the concrete argument vector and stdin payload for one run.
type Invocation struct {
	Args  []string
	Stdin *string // nil means no stdin is written
}

// Build expands the definition's argument and stdin templates against req.
// Missing parameters expand to "" and arguments that expand to "" are
// dropped, which is how optional flags are written in configuration.
func Build(def *Definition, req Request) Invocation {
	b := template.Bindings{Params: req.Params, Body: req.Body}

	args := make([]string, 0, len(def.Args))
	for _, tmpl := range def.Args {
		args = append(args, template.ExpandArgs(tmpl, b)...)
	}

	inv := Invocation{Args: args}
	if req.Body != nil && def.HasStdin() {
		stdin := template.ExpandString(def.Stdin, b)
		if !strings.HasSuffix(stdin, "\n") {
			stdin += "\n"
		}
		inv.Stdin = &stdin
	}
	return inv
}
