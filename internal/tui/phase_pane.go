package tui

import (
	"fmt"
	"strings"

	"github.com/termcoder/tc/internal/domain"
)

// PhasePaneModel renders the plan as a phase tree with per-task status.
type PhasePaneModel struct {
	phases  []domain.Phase
	tasks   map[string][]domain.Task // phase id -> tasks
	width   int
	height  int
	focused bool
}

// NewPhasePaneModel creates an empty phase pane.
func NewPhasePaneModel() PhasePaneModel {
	return PhasePaneModel{tasks: make(map[string][]domain.Task)}
}

// SetPlan replaces the rendered plan.
func (m *PhasePaneModel) SetPlan(phases []domain.Phase, tasks []domain.Task) {
	m.phases = phases
	m.tasks = make(map[string][]domain.Task, len(phases))
	for _, t := range tasks {
		m.tasks[t.PhaseID] = append(m.tasks[t.PhaseID], t)
	}
}

// SetSize updates the pane dimensions.
func (m *PhasePaneModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// SetFocused updates the focus state.
func (m *PhasePaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// View renders the phase tree.
func (m PhasePaneModel) View() string {
	var sb strings.Builder
	sb.WriteString(StyleTitle.Render("Plan"))
	sb.WriteString("\n")

	if len(m.phases) == 0 {
		sb.WriteString(StyleStatusPending.Render("no plan yet — run `tc plan`"))
	}
	for _, phase := range m.phases {
		sb.WriteString(fmt.Sprintf("%s Phase %d: %s\n", phaseGlyph(phase.Status), phase.Sequence, phase.Name))
		for _, task := range m.tasks[phase.ID] {
			retry := ""
			if task.RetryCount > 0 {
				retry = fmt.Sprintf(" (retry %d)", task.RetryCount)
			}
			sb.WriteString(fmt.Sprintf("  %s [%s] %s%s\n", statusGlyph(task.Status), task.Kind, task.Name, retry))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.Width(m.width - 2).Height(m.height - 2).Render(strings.TrimRight(sb.String(), "\n"))
}
