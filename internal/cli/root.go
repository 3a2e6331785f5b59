// Package cli описывает команды lifecycle (serve, run, migrate).
package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Leganyst/appointment-lifecycle/internal/app"
	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/config"
)

// RootOptions: глобальные флаги.
type RootOptions struct {
	LogLevel string
	Verbose  bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Appointment and subscription lifecycle engine",
		Long: `Moves appointments through pending -> confirmed -> completed -> archived,
expires trials and keeps subscriptions in sync with the payment provider.

Configuration comes from the environment (and .env, if present).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// loadConfig читает конфигурацию и настраивает логгер с учётом флагов.
func loadConfig(opts *RootOptions) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if opts.Verbose {
		level = "debug"
	}
	return cfg, app.NewLogger(level, cfg.LogJSON), nil
}

func openApp(ctx context.Context, opts *RootOptions, clock calendar.Clock) (*app.App, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, clock)
}
