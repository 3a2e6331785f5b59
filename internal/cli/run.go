package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/runstate"
)

// Имена задач в CLI.
var jobNames = map[string]string{
	"auto-update":    runstate.JobAutoUpdate,
	"check-trials":   runstate.JobCheckTrials,
	"audit-profiles": runstate.JobAuditProfiles,
}

type RunOptions struct {
	*RootOptions
	Now     string
	Migrate bool
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <auto-update|check-trials|audit-profiles>",
		Short: "Run one batch job and print its result as JSON",
		Example: `  lifecycle run auto-update
  lifecycle run check-trials --now 2025-06-01T03:00:00Z`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"auto-update", "check-trials", "audit-profiles"},
		RunE: func(cmd *cobra.Command, args []string) error {
			job, ok := jobNames[args[0]]
			if !ok {
				return fmt.Errorf("unknown job %q", args[0])
			}

			var clock calendar.Clock
			if opts.Now != "" {
				at, err := time.Parse(time.RFC3339, strings.TrimSpace(opts.Now))
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				clock = calendar.FixedClock{T: at}
			}

			a, err := openApp(cmd.Context(), opts.RootOptions, clock)
			if err != nil {
				return err
			}
			defer a.Close()

			if opts.Migrate {
				if err := a.Migrate(cmd.Context()); err != nil {
					return err
				}
			}

			res, runErr := a.Jobs.Run(cmd.Context(), job)
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&opts.Now, "now", "", "evaluate rules at this RFC3339 instant instead of the wall clock")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply migrations before running")

	return cmd
}
