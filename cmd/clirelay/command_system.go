package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/clirelay/internal/api"
	"github.com/mattjoyce/clirelay/internal/audit"
	"github.com/mattjoyce/clirelay/internal/command"
	"github.com/mattjoyce/clirelay/internal/config"
	"github.com/mattjoyce/clirelay/internal/engine"
	"github.com/mattjoyce/clirelay/internal/events"
	"github.com/mattjoyce/clirelay/internal/grpchealth"
	"github.com/mattjoyce/clirelay/internal/lock"
	"github.com/mattjoyce/clirelay/internal/log"
	"github.com/mattjoyce/clirelay/internal/runner"
	"github.com/mattjoyce/clirelay/internal/storage"
	"github.com/mattjoyce/clirelay/internal/tui/watch"
)

const defaultAPIURL = "http://127.0.0.1:8080"

func newSystemCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Gateway lifecycle and live monitoring",
	}
	cmd.AddCommand(newSystemStartCmd(opts))
	cmd.AddCommand(newSystemWatchCmd())
	return cmd
}

func newSystemStartCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, cfg, path)
		},
	}
}

func newSystemWatchCmd() *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of invocations on a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch.Run(apiURL)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", defaultAPIURL, "base URL of the running gateway")
	return cmd
}

// runStart serves the gateway until ctx is canceled or a server fails.
func runStart(ctx context.Context, cfg *config.Config, configPath string) error {
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("clirelay starting", "version", version, "config", configPath)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("build command registry: %w", err)
	}
	logger.Info("command registry loaded", "commands", reg.Len())

	var store *audit.Store
	if cfg.Audit.IsEnabled() {
		db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
		if err != nil {
			logger.Error("failed to open audit database", "path", cfg.Audit.Path, "error", err)
			return err
		}
		defer db.Close()
		store = audit.New(db)
		logger.Info("audit database opened", "path", cfg.Audit.Path)

		if retention := cfg.Audit.RetentionPeriod(); retention > 0 {
			pruned, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("audit prune failed", "error", err)
			} else if pruned > 0 {
				logger.Info("pruned audit log", "removed", pruned, "retention", retention)
			}
		}
	}

	hub := events.NewHub(cfg.API.EventBuffer)
	eng := newEngine(cfg, reg, store, hub)

	var history api.HistoryReader
	if store != nil {
		history = store
	}
	apiServer := api.New(api.Config{
		Listen:       cfg.API.Listen,
		StaticDir:    cfg.API.StaticDir,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		Version:      version,
	}, eng, reg, history, hub, log.WithComponent("api"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	run("api", apiServer.Start)
	if addr := cfg.API.GRPCHealthListen; addr != "" {
		hs := grpchealth.New(log.WithComponent("grpc"))
		run("grpc health", func(ctx context.Context) error { return hs.Start(ctx, addr) })
		logger.Info("gRPC health server enabled", "listen", addr)
	}

	logger.Info("clirelay running (press Ctrl+C to stop)")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		logger.Error("component failed", "error", runErr)
	}
	cancel()
	wg.Wait()

	logger.Info("clirelay stopped")
	return runErr
}

// newEngine wires the runner, audit recorder and event hub. store and hub
// may be nil.
func newEngine(cfg *config.Config, reg *command.Registry, store *audit.Store, hub *events.Hub) *engine.Engine {
	r := runner.New(
		runner.WithLogger(log.WithComponent("runner")),
		runner.WithMaxOutputBytes(cfg.Service.MaxOutputBytes),
	)
	opts := []engine.Option{
		engine.WithMaxConcurrent(cfg.Service.MaxConcurrent),
		engine.WithLogger(log.WithComponent("engine")),
	}
	if store != nil {
		opts = append(opts, engine.WithRecorder(store))
	}
	if hub != nil {
		opts = append(opts, engine.WithPublisher(hub))
	}
	return engine.New(reg, r, opts...)
}
