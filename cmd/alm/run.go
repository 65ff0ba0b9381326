package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/alm/internal/logging"
)

func newRunCmd() *cobra.Command {
	var (
		once         bool
		dryRun       bool
		verbose      bool
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the polling daemon",
		Long: `Poll Jira for labeled issues and dispatch each one to its action.

Examples:
  alm run                      # Poll until interrupted
  alm run --once               # Run a single cycle and exit
  alm run --dry-run --once     # List what would be dispatched
  alm run --poll-interval 1m   # Override the poll interval`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if pollInterval > 0 {
				cfg.Daemon.PollInterval = pollInterval.String()
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			defer func() { _ = logging.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			if !once {
				return a.daemon.Run(ctx)
			}

			cycle, err := a.daemon.RunOnce(ctx)
			if err != nil {
				return err
			}
			if cycle.Skipped {
				return nil
			}
			for _, item := range cycle.Items {
				logging.WithComponent("alm").Info("Processed",
					slog.String("issue", item.IssueKey),
					slog.String("label", item.Label),
					slog.String("status", string(item.Status)),
					slog.String("error_kind", item.ErrorKind),
				)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List work without claiming or dispatching it")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Override daemon.poll_interval")

	return cmd
}
