package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// PhaseEvent is one journal transition in a trial timeline.
type PhaseEvent struct {
	Attempt int    `json:"attempt"`
	Phase   string `json:"phase"`
	Ts      string `json:"ts"`
}

// TrialDetail is the inspect_trial view payload: one cell's resolution and
// its phase timeline reconstructed from the journal.
type TrialDetail struct {
	Trial       string       `json:"trial"`
	Outcome     string       `json:"outcome"`
	Attempts    int          `json:"attempts"`
	FailedPhase string       `json:"failed_phase,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Timeline    []PhaseEvent `json:"timeline,omitempty"`
}

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	scroll   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Down):
			m.scroll++
		case key.Matches(msg, keys.Up):
			if m.scroll > 0 {
				m.scroll--
			}
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_trial":
		content = m.renderTrialDetail()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("j/k scroll · q quit")
	return content + "\n" + help
}

func (m InspectModel) renderTrialDetail() string {
	data, ok := m.data.(*TrialDetail)
	if !ok {
		return "Invalid data type for inspect_trial"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Trial " + data.Trial))
	b.WriteString("\n\n")

	b.WriteString(LabelStyle.Render("Outcome"))
	b.WriteString(StateStyle(data.Outcome).Render(data.Outcome))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("Attempts"))
	b.WriteString(ValueStyle.Render(fmt.Sprintf("%d", data.Attempts)))
	b.WriteString("\n")
	if data.FailedPhase != "" {
		b.WriteString(LabelStyle.Render("Failed phase"))
		b.WriteString(ErrorStyle.Render(data.FailedPhase))
		b.WriteString("\n")
	}
	if data.Reason != "" {
		b.WriteString(LabelStyle.Render("Reason"))
		b.WriteString(ValueStyle.Render(data.Reason))
		b.WriteString("\n")
	}

	if len(data.Timeline) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Phase Timeline"))
		b.WriteString("\n")

		visible := data.Timeline
		if m.scroll < len(visible) {
			visible = visible[m.scroll:]
		} else {
			visible = nil
		}
		for _, ev := range visible {
			line := fmt.Sprintf("attempt %d  %-18s %s", ev.Attempt, ev.Phase, ev.Ts)
			b.WriteString(ValueStyle.Render(line))
			b.WriteString("\n")
		}
	}

	return b.String()
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j", "down"),
	),
}
