package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// HeaderStyle styles the column header row.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	statusStyles = map[string]lipgloss.Style{
		// Terminal states
		"ready":    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"cached":   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"complete": lipgloss.NewStyle().Foreground(lipgloss.Color("2")),

		// Active states
		"rendering": lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		"encoding":  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		"preparing": lipgloss.NewStyle().Foreground(lipgloss.Color("4")),

		// Degraded
		"not ready": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		"cancelled": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),

		// Error
		"failed": lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		"error":  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),

		// Pending
		"pending": lipgloss.NewStyle().Faint(true),
	}
)

// StatusStyle returns the lipgloss style for the given status string. Statuses
// with a trailing qualifier ("rendering 42%") style by their leading word.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	if word, _, found := strings.Cut(status, " "); found {
		if s, ok := statusStyles[word]; ok {
			return s
		}
	}
	return lipgloss.NewStyle()
}
