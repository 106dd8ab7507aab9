package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coldchain-cloud/internal/config"
	"coldchain-cloud/internal/logger"
	"coldchain-cloud/migrations"
)

const serviceName = "coldchain-cloud"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "coldchain",
		Short:         "Cold-chain alert lifecycle and escalation engine.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCommand(), newMigrateCommand(), newEscalateOnceCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, ingest consumers and the escalation scheduler.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return withRuntime(func(cfg config.Config, log *zap.Logger) error {
				app, err := buildApp(ctx, cfg, log, memory)
				if err != nil {
					return err
				}
				defer app.Close()
				return app.Serve(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "use in-memory stores seeded with a demo cold cell")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(cfg config.Config, log *zap.Logger) error {
				db, err := openDB(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				return migrations.Apply(cmd.Context(), db, log)
			})
		},
	}
}

func newEscalateOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "escalate-once",
		Short: "Run a single escalation tick and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(cfg config.Config, log *zap.Logger) error {
				app, err := buildApp(cmd.Context(), cfg, log, false)
				if err != nil {
					return err
				}
				defer app.Close()
				return app.scheduler.Tick(cmd.Context())
			})
		},
	}
}

func withRuntime(run func(cfg config.Config, log *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}
