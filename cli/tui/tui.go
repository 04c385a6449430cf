package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the appropriate TUI based on the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	var model tea.Model
	switch {
	case strings.HasPrefix(viewType, "inspect_"):
		model = NewInspectModel(viewType, data)
	case strings.HasPrefix(viewType, "stats_"):
		model = NewStatsModel(viewType, data)
	default:
		return fmt.Errorf("unknown view type: %s", viewType)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only the read-only inspect and stats commands support TUI.
func IsTUISupported(viewType string) bool {
	for _, prefix := range []string{"inspect_", "stats_"} {
		if strings.HasPrefix(viewType, prefix) {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{
		"inspect_trial",
		"stats_run",
	}
}
