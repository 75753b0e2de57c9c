// Package tui is a terminal monitor for orchestration runs. It only reads
// the event bus; it never drives the orchestrator.
package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kemerova/argus/internal/config"
	"github.com/kemerova/argus/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneSessions PaneID = iota
	PaneAgents

	paneCount = 2
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	sessionPane  SessionPaneModel
	agentPane    AgentPaneModel
	settingsPane SettingsPaneModel
	help         help.Model
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates a new TUI model subscribed to every topic of bus.
func New(bus *events.Bus, cfg *config.Config, globalPath, projectPath string) Model {
	m := Model{
		sessionPane:  NewSessionPaneModel(),
		agentPane:    NewAgentPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		help:         help.New(),
		focusedPane:  PaneSessions,
		eventSub:     bus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The settings form is modal.
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, tea.Batch(cmds...)
		}

		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Settings):
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			m.settingsPane.SetSize(m.width, m.height)
			cmds = append(cmds, m.settingsPane.Init())

		case key.Matches(msg, keys.Next):
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.Prev):
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.Sessions):
			m.focusedPane = PaneSessions
			m.updateFocusStates()

		case key.Matches(msg, keys.Agents):
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneSessions:
				m.sessionPane, cmd = m.sessionPane.Update(msg)
			case PaneAgents:
				m.agentPane, cmd = m.agentPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.OrchestrationStartedEvent, events.PhaseCompletedEvent, events.OrchestrationEndedEvent:
		var cmd tea.Cmd
		m.sessionPane, cmd = m.sessionPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.AgentCalledEvent, events.CacheHitEvent:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case tickMsg:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)

	default:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.sessionPane.View(), m.agentPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, main, helpView(m.help))
}

// computeLayout splits the screen 45/55 between sessions and agents.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar

	m.sessionPane.SetSize(leftWidth, availableHeight)
	m.agentPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.sessionPane.SetFocused(m.focusedPane == PaneSessions)
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
}
