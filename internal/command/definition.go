package command

import (
	"time"

	"github.com/mattjoyce/clirelay/internal/output"
)

// Definition describes one invocable external program. Definitions are built
// once at startup and must not be modified afterwards; the engine reads them
// from many goroutines without locking.
type Definition struct {
	ID         string
	Executable string
	Args       []string // argument templates, in order
	Stdin      string   // stdin template; used only when the request has a body
	Spawn      SpawnOptions
	Output     output.Policy
}

// SpawnOptions are passed through to the process runner unchanged.
type SpawnOptions struct {
	Dir     string
	Env     map[string]string
	Timeout time.Duration // 0 means no limit
}

// HasStdin reports whether the definition declares a stdin template.
func (d *Definition) HasStdin() bool {
	return d.Stdin != ""
}

func (d Definition) clone() Definition {
	out := d
	out.Args = append([]string(nil), d.Args...)
	if d.Spawn.Env != nil {
		out.Spawn.Env = make(map[string]string, len(d.Spawn.Env))
		for k, v := range d.Spawn.Env {
			out.Spawn.Env[k] = v
		}
	}
	return out
}
