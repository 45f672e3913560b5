package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wisbric/fleethub/internal/app"
	"github.com/wisbric/fleethub/internal/config"
	"github.com/wisbric/fleethub/internal/platform"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleethubd",
		Short: "fleethubd runs the homelab fleet-management hub",
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMode("api")
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "run the scheduler/background worker loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMode("worker")
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}

// runMode loads config, overrides the run mode named by the invoked
// subcommand, and runs the application until SIGINT/SIGTERM.
func runMode(mode string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Mode = mode

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		return err
	}
	return nil
}
