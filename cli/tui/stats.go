package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RunStats is the stats_run view payload: outcome counts for a grid run
// plus phase-failure attribution. Same payload as the non-TUI rendering.
type RunStats struct {
	RunID             string         `json:"run_id,omitempty"`
	Trials            int            `json:"trials"`
	Succeeded         int            `json:"succeeded"`
	PermanentlyFailed int            `json:"permanently_failed"`
	Canceled          int            `json:"canceled"`
	Attempts          int            `json:"attempts"`
	Retries           int            `json:"retries"`
	PhaseFailures     map[string]int `json:"phase_failures,omitempty"`
}

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_run":
		content = m.renderRunStats()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderRunStats() string {
	data, ok := m.data.(*RunStats)
	if !ok {
		return "Invalid data type for stats_run"
	}

	var b strings.Builder
	title := "Grid Run Statistics"
	if data.RunID != "" {
		title += " - " + data.RunID
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Trials", data.Trials, highlightColor),
		m.renderStatBox("Succeeded", data.Succeeded, successColor),
		m.renderStatBox("Failed", data.PermanentlyFailed, errorColor),
		m.renderStatBox("Canceled", data.Canceled, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	attempts := []string{
		m.renderStatBox("Attempts", data.Attempts, highlightColor),
		m.renderStatBox("Retries", data.Retries, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, attempts...))

	if len(data.PhaseFailures) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Failures by Phase"))
		b.WriteString("\n")

		phases := make([]string, 0, len(data.PhaseFailures))
		for phase := range data.PhaseFailures {
			phases = append(phases, phase)
		}
		sort.Strings(phases)
		for _, phase := range phases {
			b.WriteString(LabelStyle.Render(phase))
			b.WriteString(ErrorStyle.Render(fmt.Sprintf("%d", data.PhaseFailures[phase])))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	box := StatBoxStyle.BorderForeground(color)
	content := StatLabelStyle.Render(label) + "\n" +
		StatValueStyle.Render(fmt.Sprintf("%d", value))
	return box.Render(content)
}
