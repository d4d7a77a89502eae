package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/termcoder/tc/internal/domain"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// statusGlyph renders a task status as a single styled marker.
func statusGlyph(status domain.TaskStatus) string {
	switch status {
	case domain.TaskCompleted:
		return StyleStatusComplete.Render("✓")
	case domain.TaskFailed:
		return StyleStatusFailed.Render("✗")
	case domain.TaskRunning:
		return StyleStatusRunning.Render("●")
	case domain.TaskPaused:
		return StyleStatusFailed.Render("⏸")
	case domain.TaskSkipped:
		return StyleStatusPending.Render("~")
	default:
		return StyleStatusPending.Render("○")
	}
}

func phaseGlyph(status domain.PhaseStatus) string {
	switch status {
	case domain.PhaseCompleted:
		return StyleStatusComplete.Render("✓")
	case domain.PhaseFailed:
		return StyleStatusFailed.Render("✗")
	case domain.PhaseRunning:
		return StyleStatusRunning.Render("●")
	case domain.PhaseSkipped:
		return StyleStatusPending.Render("~")
	default:
		return StyleStatusPending.Render("○")
	}
}
