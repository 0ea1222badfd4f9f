package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/clirelay/internal/config"
)

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	configPath string
}

// NewRootCmd builds the clirelay command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "clirelay",
		Short: "Expose local command-line programs over HTTP",
		Long: `clirelay maps HTTP requests onto a fixed set of configured command-line
programs. Query parameters and the request body are substituted into each
command's arguments and stdin, and the command's output is shaped into the
HTTP response by per-command templates.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		fmt.Sprintf("path to config file or directory (default: $%s, ~/.config/clirelay, /etc/clirelay, ./config.yaml)", config.EnvConfig))

	root.AddCommand(newSystemCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newCommandCmd(opts))
	root.AddCommand(newInvocationCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

// resolveConfigPath applies the discovery order to --config.
func (o *globalOptions) resolveConfigPath() (string, error) {
	path, err := config.Discover(o.configPath)
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	return path, nil
}

// loadConfig discovers and loads the configuration.
func (o *globalOptions) loadConfig() (*config.Config, string, error) {
	path, err := o.resolveConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "clirelay version %s\n", version)
			return nil
		},
	}
}
