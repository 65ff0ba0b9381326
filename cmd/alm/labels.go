package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/alm/internal/actions"
)

func newLabelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the labels alm acts on",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := actions.DefaultLabelPrefix
			if cfg, err := loadConfig(); err == nil {
				prefix = cfg.Daemon.LabelPrefix
			}
			registry, err := actions.NewRegistry(prefix)
			if err != nil {
				return err
			}

			printTitle("Labels")
			fmt.Printf("  %s\n", headerStyle.Render(fmt.Sprintf("%-22s %-14s %-8s %s", "LABEL", "TYPES", "CHANGES", "RESULT")))
			for _, d := range registry.Descriptors() {
				types := "any"
				if len(d.AllowedTypes) > 0 {
					types = strings.Join(d.AllowedTypes, ",")
				}
				changes := "no"
				if d.MutatesRepo {
					changes = "PR"
				}
				fmt.Printf("  %-22s %-14s %-8s %s\n", d.Label, types, changes, dimStyle.Render(d.ResultHeader))
			}
			fmt.Println()
			return nil
		},
	}
}
