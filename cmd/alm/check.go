package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/alm/internal/logging"
)

func newCheckCmd() *cobra.Command {
	var release bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check configuration, credentials and stuck issues",
		Long: `Validate the configuration, authenticate against Jira, confirm the agent
and git are installed, and list issues still carrying the processing label.

An issue keeps the processing label only when the daemon died mid-dispatch.
Pass --release to remove it so the next cycle picks the issue up again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Suppress()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			printTitle("alm check")

			failed := false
			if err := cfg.Validate(); err != nil {
				checkLine(false, "configuration", err.Error())
				return fmt.Errorf("configuration is invalid")
			}
			checkLine(true, "configuration", fmt.Sprintf("project %s, repo %s", cfg.Jira.ProjectKey, cfg.GitHub.Repo))

			if _, err := exec.LookPath("git"); err != nil {
				checkLine(false, "git", "not found on PATH")
				failed = true
			} else {
				checkLine(true, "git", "installed")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			a, err := buildApp(ctx, cfg, false)
			if err != nil {
				checkLine(false, "jira", err.Error())
				return fmt.Errorf("check failed")
			}
			defer a.Close()
			checkLine(true, "jira", fmt.Sprintf("authenticated as %s", a.self.DisplayName))

			if a.agent.IsAvailable() {
				checkLine(true, "agent", a.agent.Command())
			} else {
				checkLine(false, "agent", a.agent.Command()+" not found on PATH")
				failed = true
			}
			checkLine(true, "labels", fmt.Sprintf("%d actions, prefix %q", len(a.registry.Labels()), a.registry.Prefix()))

			orphans, err := a.daemon.Orphans(ctx)
			switch {
			case err != nil:
				checkLine(false, "processing label", err.Error())
				failed = true
			case len(orphans) == 0:
				checkLine(true, "processing label", "no stuck issues")
			default:
				for _, o := range orphans {
					warnLine("stuck", fmt.Sprintf("%s %s", o.Key, o.Fields.Summary))
				}
				if release {
					released, err := a.daemon.ReleaseOrphans(ctx)
					checkLine(err == nil, "released", fmt.Sprintf("%d issue(s)", len(released)))
					if err != nil {
						failed = true
					}
				} else {
					warnLine("processing label", fmt.Sprintf("%d stuck issue(s); rerun with --release", len(orphans)))
				}
			}
			fmt.Println()

			if failed {
				return fmt.Errorf("check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&release, "release", false, "Remove the processing label from stuck issues")
	return cmd
}
