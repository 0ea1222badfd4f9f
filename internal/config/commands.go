package config

import (
	"sort"

	"github.com/mattjoyce/clirelay/internal/command"
	"github.com/mattjoyce/clirelay/internal/output"
)

// Definitions converts the commands section into command definitions, sorted by id.
func (c *Config) Definitions() []command.Definition {
	ids := make([]string, 0, len(c.Commands))
	for id := range c.Commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	defs := make([]command.Definition, 0, len(ids))
	for _, id := range ids {
		conf := c.Commands[id]
		defs = append(defs, command.Definition{
			ID:         id,
			Executable: conf.Executable,
			Args:       conf.Args,
			Stdin:      conf.Stdin,
			Spawn: command.SpawnOptions{
				Dir:     conf.Dir,
				Env:     conf.Env,
				Timeout: conf.Timeout,
			},
			Output: output.Policy{
				OnSuccess:   conf.Output.OnSuccess,
				OnError:     conf.Output.OnError,
				ContentType: conf.Output.ContentType,
			},
		})
	}
	return defs
}

// Registry builds the immutable command registry.
func (c *Config) Registry() (*command.Registry, error) {
	return command.NewRegistry(c.Definitions()...)
}
