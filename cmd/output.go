package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"polymath/internal/syncer"
)

// Styles for command output.
var (
	okMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("✓")
	failMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	deadMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("☠")
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boldStyle = lipgloss.NewStyle().Bold(true)
)

// shortID truncates a UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// printDrainResult summarises a drain pass for the user.
func printDrainResult(result syncer.DrainResult) {
	if result.Sent == 0 && result.Failed == 0 {
		fmt.Println(dimStyle.Render("nothing to sync"))
		return
	}
	fmt.Printf("%s %d sent", okMark, result.Sent)
	if result.Failed > 0 {
		fmt.Printf("  %s %d failed (will retry)", failMark, result.Failed)
	}
	if result.Dead > 0 {
		fmt.Printf("  %s %d dead-lettered", deadMark, result.Dead)
	}
	fmt.Println()
}
