// Package tui is the live dashboard: a passive observer that renders the
// plan and the event feed. It subscribes to the in-process bus when the
// engine runs in the same process, and always tails the persisted log with a
// cursor, so a standalone `tc dashboard` in another process misses nothing.
// It never writes.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/events"
	"github.com/termcoder/tc/internal/persistence"
)

// refreshInterval is the store poll cadence.
const refreshInterval = time.Second

// PaneID identifies which pane is focused.
type PaneID int

const (
	PanePhases PaneID = iota
	PaneEvents
)

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	store     *persistence.Store
	projectID string
	sub       *events.Subscription

	phasePane   PhasePaneModel
	eventPane   EventPaneModel
	focusedPane PaneID

	project domain.Project
	cursor  int64
	width   int
	height  int
	err     error
	quit    bool
}

// refreshMsg carries a store snapshot into the update loop.
type refreshMsg struct {
	project domain.Project
	phases  []domain.Phase
	tasks   []domain.Task
	events  []domain.Event
	cursor  int64
	err     error
}

type busMsg domain.Event

type tickMsg struct{}

// New creates a dashboard model. sub may be nil for cross-process use.
func New(store *persistence.Store, projectID string, sub *events.Subscription) Model {
	return Model{
		store:     store,
		projectID: projectID,
		sub:       sub,
		phasePane: NewPhasePaneModel(),
		eventPane: NewEventPaneModel(),
	}
}

// Init starts the poll loop and, when wired, the bus wait.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refresh(), tickAfter()}
	if m.sub != nil {
		cmds = append(cmds, waitForEvent(m.sub))
	}
	return tea.Batch(cmds...)
}

func tickAfter() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func waitForEvent(sub *events.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.C
		if !ok {
			return nil // bus closed
		}
		return busMsg(ev)
	}
}

// refresh reads the current plan and any log rows past the cursor.
func (m Model) refresh() tea.Cmd {
	store, projectID, cursor := m.store, m.projectID, m.cursor
	return func() tea.Msg {
		ctx := context.Background()
		project, err := store.GetProject(ctx, projectID)
		if err != nil {
			return refreshMsg{err: err}
		}
		phases, err := store.ListPhases(ctx, projectID)
		if err != nil {
			return refreshMsg{err: err}
		}
		tasks, err := store.ListTasksByProject(ctx, projectID)
		if err != nil {
			return refreshMsg{err: err}
		}
		evs, err := store.ReadEvents(ctx, persistence.EventFilter{ProjectID: projectID, SinceID: cursor, Limit: 200})
		if err != nil {
			return refreshMsg{err: err}
		}
		next := cursor
		for _, ev := range evs {
			next = ev.ID
		}
		return refreshMsg{project: project, phases: phases, tasks: tasks, events: evs, cursor: next}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quit = true
			return m, tea.Quit
		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()
		default:
			if m.focusedPane == PaneEvents {
				var cmd tea.Cmd
				m.eventPane, cmd = m.eventPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		cmds = append(cmds, m.refresh(), tickAfter())

	case refreshMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.project = msg.project
		m.cursor = msg.cursor
		m.phasePane.SetPlan(msg.phases, msg.tasks)
		m.eventPane.Append(msg.events...)

	case busMsg:
		// The bus is only a liveness hint; the log tail is authoritative
		// and already carries this event. Trigger an immediate refresh.
		cmds = append(cmds, m.refresh())
		if m.sub != nil {
			cmds = append(cmds, waitForEvent(m.sub))
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quit {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	content := lipgloss.JoinHorizontal(lipgloss.Top, m.phasePane.View(), m.eventPane.View())

	status := StyleTitle.Render(fmt.Sprintf("%s — %s", m.project.Name, m.project.Status))
	if m.err != nil {
		status += " " + StyleStatusFailed.Render(fmt.Sprintf("(refresh error: %v)", m.err))
	}
	return lipgloss.JoinVertical(lipgloss.Left, status, content, HelpView())
}

// computeLayout calculates pane dimensions and updates the child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 2 // status line + help bar

	m.phasePane.SetSize(leftWidth, availableHeight)
	m.eventPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.phasePane.SetFocused(m.focusedPane == PanePhases)
	m.eventPane.SetFocused(m.focusedPane == PaneEvents)
}
