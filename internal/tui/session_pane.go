package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kemerova/argus/internal/events"
)

// PhaseState is one finished phase of a session.
type PhaseState struct {
	Name      string
	Consensus float64
}

// SessionState tracks one orchestration run.
type SessionState struct {
	ID          string
	Project     string
	Status      string
	TotalPhases int
	Phases      []PhaseState
	StartTime   time.Time
	Elapsed     time.Duration
}

// SessionPaneModel lists orchestration runs and the phases of the selected one.
type SessionPaneModel struct {
	sessions    map[string]*SessionState
	order       []string
	selectedIdx int
	width       int
	height      int
	focused     bool
}

// NewSessionPaneModel creates an empty session pane.
func NewSessionPaneModel() SessionPaneModel {
	return SessionPaneModel{sessions: make(map[string]*SessionState)}
}

// session returns the state for id, creating it for events that arrive
// before the start event.
func (m *SessionPaneModel) session(id string) *SessionState {
	s, ok := m.sessions[id]
	if !ok {
		s = &SessionState{ID: id, Status: "running"}
		m.sessions[id] = s
		m.order = append(m.order, id)
	}
	return s
}

// Update handles messages for the session pane.
func (m SessionPaneModel) Update(msg tea.Msg) (SessionPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		}

	case events.OrchestrationStartedEvent:
		s := m.session(msg.Session)
		s.Project = msg.Project
		s.TotalPhases = msg.TotalPhases
		s.StartTime = msg.Timestamp

	case events.PhaseCompletedEvent:
		s := m.session(msg.Session)
		s.Phases = append(s.Phases, PhaseState{Name: msg.Phase, Consensus: msg.Consensus})

	case events.OrchestrationEndedEvent:
		s := m.session(msg.Session)
		s.Status = msg.Status
		s.Elapsed = msg.Elapsed
	}

	return m, nil
}

// Selected returns the selected session, if any.
func (m SessionPaneModel) Selected() (SessionState, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.order) {
		return SessionState{}, false
	}
	return *m.sessions[m.order[m.selectedIdx]], true
}

// View renders the session pane.
func (m SessionPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := styleTitle.Render("Sessions")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(styleMuted.Render("Waiting for orchestrations..."))
	}
	for i, id := range m.order {
		s := m.sessions[id]
		line := fmt.Sprintf("%s %s  %d/%d", StatusIcon(s.Status), s.Project, len(s.Phases), s.TotalPhases)
		if s.Elapsed > 0 {
			line += fmt.Sprintf("  %s", s.Elapsed.Round(time.Millisecond))
		}
		if i == m.selectedIdx {
			line = styleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if s, ok := m.Selected(); ok {
		b.WriteString("\n")
		b.WriteString(m.renderPhases(s))
	}

	return paneStyle(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m SessionPaneModel) renderPhases(s SessionState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session %s (%s)\n", shortID(s.ID), s.Status)
	for _, p := range s.Phases {
		fmt.Fprintf(&b, "  %-12s consensus %.2f\n", p.Name, p.Consensus)
	}

	if s.TotalPhases > 0 {
		barWidth := min(m.width-8, 30)
		done := min(len(s.Phases), s.TotalPhases)
		filled := (done * barWidth) / s.TotalPhases

		bar := styleOK.Render(strings.Repeat("=", max(0, filled)))
		bar += styleMuted.Render(strings.Repeat(".", max(0, barWidth-filled)))
		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, done, s.TotalPhases)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SetSize updates the pane dimensions.
func (m *SessionPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *SessionPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
