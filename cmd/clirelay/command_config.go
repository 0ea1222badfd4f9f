package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/clirelay/internal/config"
	"github.com/mattjoyce/clirelay/internal/doctor"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration validation and integrity",
	}
	cmd.AddCommand(newConfigCheckCmd(opts))
	cmd.AddCommand(newConfigLockCmd(opts))
	return cmd
}

func newConfigCheckCmd(opts *globalOptions) *cobra.Command {
	var jsonOut, strict bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration syntax, commands, and integrity",
		Long: `Validate the configuration beyond what loading enforces: executables on
PATH, working directories, placeholder placement, output templates, and the
.checksums manifest.

Exit status is 1 when errors are found, and 2 with --strict when only
warnings are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}

			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()
			if jsonOut {
				s, err := doctor.FormatJSON(result)
				if err != nil {
					return fmt.Errorf("format result: %w", err)
				}
				fmt.Fprintln(out, s)
			} else {
				fmt.Fprint(out, doctor.FormatHuman(result))
			}

			if !result.Valid {
				return exitCode(1)
			}
			if strict && len(result.Warnings) > 0 {
				return exitCode(2)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}

func newConfigLockCmd(opts *globalOptions) *cobra.Command {
	var dryRun, verbose bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Authorize the current configuration by writing BLAKE3 checksums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.resolveConfigPath()
			if err != nil {
				return err
			}
			// Files are discovered without Load so an edited config can be re-locked.
			files, err := config.DiscoverAllConfigFiles(path)
			if err != nil {
				return fmt.Errorf("failed to resolve config files: %w", err)
			}

			reports, err := config.LockFiles(files, dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, report := range reports {
				if verbose {
					fmt.Fprintf(out, "Processing directory: %s\n", report.ConfigDir)
					for _, f := range report.Files {
						fmt.Fprintf(out, "  HASH %s: %s\n", f.Filename, f.Hash)
					}
				}
				if report.Written {
					fmt.Fprintf(out, "  WROTE %s\n", report.ChecksumPath)
				} else {
					fmt.Fprintf(out, "  DRY-RUN %s (not written)\n", report.ChecksumPath)
				}
			}

			if dryRun {
				fmt.Fprintf(out, "Dry run completed for %d file(s) (no files written)\n", len(files))
			} else {
				fmt.Fprintf(out, "Successfully locked %d file(s)\n", len(files))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute hashes without writing .checksums")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each file hash")
	return cmd
}
