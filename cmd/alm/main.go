package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Persistent flags shared by every command.
var (
	configPath string
	envFile    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alm",
		Short: "Label-driven AI agent for Jira",
		Long: `alm watches a Jira project for issues carrying ai-* labels, runs the
Claude Code agent against a fresh checkout of the repository, and posts the
results back to the issue. Fix and implement labels also open a pull request.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ~/.alm/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file")

	rootCmd.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newLabelsCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alm %s\n", version)
		},
	}
}
