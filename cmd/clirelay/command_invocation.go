package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/clirelay/internal/audit"
	"github.com/mattjoyce/clirelay/internal/inspect"
	"github.com/mattjoyce/clirelay/internal/storage"
)

const defaultListLimit = 20

func newInvocationCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invocation",
		Short: "Invocation history from the audit log",
	}
	cmd.AddCommand(newInvocationListCmd(opts))
	cmd.AddCommand(newInvocationShowCmd(opts))
	return cmd
}

// openAudit opens the configured audit store. The caller closes db.
func openAudit(ctx context.Context, opts *globalOptions) (*audit.Store, *sql.DB, error) {
	cfg, _, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Audit.IsEnabled() {
		return nil, nil, errors.New("audit log disabled (audit.enabled: false)")
	}
	db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	return audit.New(db), db, nil
}

func newInvocationListCmd(opts *globalOptions) *cobra.Command {
	var f audit.Filter
	var status string
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List recent invocations, newest first",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Limit <= 0 {
				return fmt.Errorf("invalid limit %d", f.Limit)
			}
			f.Status = audit.Status(status)

			store, db, err := openAudit(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := store.Recent(cmd.Context(), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No invocations recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tEXIT\tSTARTED\tDURATION\tSUMMARY")
			for _, e := range entries {
				exit := "-"
				if e.ExitCode != nil {
					exit = fmt.Sprint(*e.ExitCode)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID,
					e.CommandID,
					e.Status,
					exit,
					e.StartedAt.Local().Format(time.DateTime),
					e.Duration.Round(time.Millisecond),
					oneLine(e.Summary, 60),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", defaultListLimit, "maximum number of invocations")
	cmd.Flags().StringVar(&f.CommandID, "command", "", "only this command ID")
	cmd.Flags().StringVar(&status, "status", "", "only this status (succeeded, failed, spawn_failed, timed_out, canceled)")
	return cmd
}

func newInvocationShowCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <invocationID>",
		Short: "Show one invocation with its arguments and earlier runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := openAudit(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			var report string
			if jsonOut {
				report, err = inspect.BuildJSONReport(cmd.Context(), store, args[0])
			} else {
				report, err = inspect.BuildReport(cmd.Context(), store, args[0])
			}
			if err != nil {
				return fmt.Errorf("inspect failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				fmt.Fprintln(out, report)
			} else {
				fmt.Fprint(out, report)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the report as JSON")
	return cmd
}

// oneLine folds newlines and clips s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
