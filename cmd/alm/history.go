package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/alm/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dispatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return fmt.Errorf("history is disabled (history.path is empty)")
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			printTitle("Recent runs")
			if len(runs) == 0 {
				fmt.Println(dimStyle.Render("  No runs recorded yet."))
				fmt.Println()
				return nil
			}

			fmt.Printf("  %s\n", headerStyle.Render(fmt.Sprintf("%-17s %-12s %-20s %-10s %8s %9s",
				"STARTED", "ISSUE", "LABEL", "STATUS", "TOOK", "COST")))
			var total float64
			for _, r := range runs {
				status := fmt.Sprintf("%-10s", r.Status)
				fmt.Printf("  %-17s %-12s %-20s %s %8s %9s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.IssueKey,
					r.Label,
					statusStyle(r.Status).Render(status),
					r.Duration().Round(time.Second),
					fmt.Sprintf("$%.4f", r.CostUSD),
				)
				if r.ErrorKind != "" {
					fmt.Printf("  %s\n", dimStyle.Render("  error: "+r.ErrorKind))
				} else if r.PRURL != "" {
					fmt.Printf("  %s\n", dimStyle.Render("  "+r.PRURL))
				}
				total += r.CostUSD
			}
			fmt.Println()

			since := time.Now().Add(-24 * time.Hour)
			day, err := store.TotalCost(cmd.Context(), since)
			if err == nil {
				fmt.Printf("  %s\n\n", dimStyle.Render(fmt.Sprintf("Shown: $%.4f   Last 24h: $%.4f", total, day)))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}
