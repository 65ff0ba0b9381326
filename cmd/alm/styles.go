package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7ec699")) // sage green

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e")) // mid gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#c9d1d9")) // light gray
)

func printTitle(title string) {
	fmt.Println()
	fmt.Println(titleStyle.Render(title))
	fmt.Println()
}

// checkLine prints one status line of `alm check`.
func checkLine(ok bool, name, msg string) {
	symbol := okStyle.Render("✓")
	if !ok {
		symbol = failStyle.Render("✗")
	}
	fmt.Printf("  %s %-22s %s\n", symbol, name, dimStyle.Render(msg))
}

func warnLine(name, msg string) {
	fmt.Printf("  %s %-22s %s\n", warnStyle.Render("!"), name, dimStyle.Render(msg))
}

// statusStyle colors a run status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded":
		return okStyle
	case "blocked", "rejected":
		return warnStyle
	case "failed":
		return failStyle
	}
	return dimStyle
}
