package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/clirelay/internal/audit"
	"github.com/mattjoyce/clirelay/internal/command"
	"github.com/mattjoyce/clirelay/internal/engine"
	"github.com/mattjoyce/clirelay/internal/log"
)

func newCommandCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Registered commands",
	}
	cmd.AddCommand(newCommandListCmd(opts))
	cmd.AddCommand(newCommandRunCmd(opts))
	return cmd
}

func newCommandListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List registered command IDs",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if reg.Len() == 0 {
				fmt.Fprintln(out, "No commands configured.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEXECUTABLE\tDESCRIPTION")
			for _, id := range reg.IDs() {
				def, _ := reg.Get(id)
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, def.Executable, cfg.Commands[id].Description)
			}
			return w.Flush()
		},
	}
}

func newCommandRunCmd(opts *globalOptions) *cobra.Command {
	var body, contentType string
	cmd := &cobra.Command{
		Use:   "run <commandID> [name=value ...]",
		Short: "Run one command locally and print the response body",
		Long: `Run one command through the same engine the gateway uses and print the
response body. Parameters are given as name=value pairs. --body - reads the
body from stdin.

Exit status is the command's exit code when it exited non-zero, 1 when it
wrote to stderr, timed out or could not be started, and 0 otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log.SetupTo(cmd.ErrOrStderr(), cfg.Service.LogLevel)

			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			req := engine.Request{
				CommandID:   args[0],
				Params:      params,
				ContentType: contentType,
				Method:      "CLI",
			}
			if cmd.Flags().Changed("body") {
				b := body
				if body == "-" {
					raw, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("read body from stdin: %w", err)
					}
					b = string(raw)
				}
				if b != "" {
					req.Body = &b
				}
			}

			res, err := newEngine(cfg, reg, nil, nil).Invoke(cmd.Context(), req)
			switch {
			case errors.Is(err, command.ErrNotFound), errors.Is(err, command.ErrInvalidID):
				return fmt.Errorf("Unrecognized command ID %s", args[0])
			case err != nil:
				return err
			}

			if _, err := cmd.OutOrStdout().Write(res.Response.Body); err != nil {
				return err
			}

			switch {
			case res.ExitCode != nil && *res.ExitCode > 0:
				return exitCode(*res.ExitCode)
			case res.Status == audit.StatusSucceeded:
				return nil
			default:
				return exitCode(1)
			}
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "request body, bound to %BODY% (- reads stdin)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "override the response content type")
	return cmd
}

// parseParams turns name=value arguments into a parameter map. Later
// duplicates win.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (want name=value)", arg)
		}
		params[name] = value
	}
	return params, nil
}
