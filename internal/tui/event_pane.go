package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/termcoder/tc/internal/domain"
)

// maxEventLines bounds the event pane's scrollback.
const maxEventLines = 500

// EventPaneModel renders the rolling event feed in a scrollable viewport.
type EventPaneModel struct {
	viewport viewport.Model
	lines    []string
	focused  bool
	ready    bool
}

// NewEventPaneModel creates an empty event pane.
func NewEventPaneModel() EventPaneModel {
	return EventPaneModel{}
}

// Append adds events to the feed, trimming old scrollback.
func (m *EventPaneModel) Append(evs ...domain.Event) {
	for _, ev := range evs {
		m.lines = append(m.lines, formatEvent(ev))
	}
	if len(m.lines) > maxEventLines {
		m.lines = m.lines[len(m.lines)-maxEventLines:]
	}
	if m.ready {
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
}

// SetSize updates the pane dimensions.
func (m *EventPaneModel) SetSize(width, height int) {
	if !m.ready {
		m.viewport = viewport.New(width-2, height-2)
		m.ready = true
	} else {
		m.viewport.Width = width - 2
		m.viewport.Height = height - 2
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// SetFocused updates the focus state.
func (m *EventPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// Update routes scroll keys to the viewport.
func (m EventPaneModel) Update(msg tea.Msg) (EventPaneModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the event feed.
func (m EventPaneModel) View() string {
	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	title := StyleTitle.Render("Events")
	if !m.ready {
		return style.Render(title)
	}
	return style.Render(title + "\n" + m.viewport.View())
}

func formatEvent(ev domain.Event) string {
	ts := ev.CreatedAt.Format("15:04:05")
	switch ev.Kind {
	case domain.EventStatusChange:
		if ev.OldValue != "" {
			return fmt.Sprintf("%s %s %s: %s → %s", ts, ev.EntityType, ev.EntityID, ev.OldValue, ev.NewValue)
		}
		return fmt.Sprintf("%s %s %s: %s", ts, ev.EntityType, ev.EntityID, ev.NewValue)
	case domain.EventOverflow:
		return fmt.Sprintf("%s … events dropped (slow subscriber)", ts)
	default:
		line := fmt.Sprintf("%s [%s] %s %s", ts, ev.Kind, ev.EntityType, ev.EntityID)
		if ev.Payload != "" {
			payload := ev.Payload
			if len(payload) > 80 {
				payload = payload[:80] + "…"
			}
			line += " " + payload
		}
		return line
	}
}
