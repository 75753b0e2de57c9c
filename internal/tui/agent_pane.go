package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kemerova/argus/internal/events"
)

// AgentState aggregates the calls made to one agent.
type AgentState struct {
	Name         string
	Provider     string
	Calls        int
	Failures     int
	CacheHits    int
	Tokens       int
	TotalLatency time.Duration
	Log          []string
	LastStatus   string // "ok" or "failed"
}

// AvgLatency is the mean latency of provider calls.
func (a AgentState) AvgLatency() time.Duration {
	if a.Calls == 0 {
		return 0
	}
	return a.TotalLatency / time.Duration(a.Calls)
}

// AgentPaneModel represents the agent list and activity viewport pane.
type AgentPaneModel struct {
	agents      map[string]*AgentState
	agentOrder  []string // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewAgentPaneModel creates a new agent pane model.
func NewAgentPaneModel() AgentPaneModel {
	return AgentPaneModel{
		agents:   make(map[string]*AgentState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

func (m *AgentPaneModel) agent(name string) *AgentState {
	a, ok := m.agents[name]
	if !ok {
		a = &AgentState{Name: name}
		m.agents[name] = a
		m.agentOrder = append(m.agentOrder, name)
		if len(m.agentOrder) == 1 {
			m.selectedIdx = 0
		}
	}
	return a
}

// Update handles messages for the agent pane.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.AgentCalledEvent:
		a := m.agent(msg.Agent)
		a.Provider = msg.Provider
		a.Calls++
		a.Tokens += msg.Tokens
		a.TotalLatency += msg.Latency
		status := "ok"
		if !msg.Success {
			a.Failures++
			status = "failed"
		}
		a.LastStatus = status
		a.Log = append(a.Log, fmt.Sprintf("[%s] %s via %s in %s, %d tokens",
			msg.Timestamp.Format("15:04:05"), status, msg.Provider, msg.Latency.Round(time.Millisecond), msg.Tokens))
		return m, m.scheduleRefresh(msg.Agent)

	case events.CacheHitEvent:
		a := m.agent(msg.Agent)
		a.CacheHits++
		a.Log = append(a.Log, fmt.Sprintf("[%s] cache hit in phase %s", msg.Timestamp.Format("15:04:05"), msg.Phase))
		return m, m.scheduleRefresh(msg.Agent)

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// scheduleRefresh debounces viewport redraws for bursts of events on the
// selected agent.
func (m *AgentPaneModel) scheduleRefresh(agent string) tea.Cmd {
	if m.getSelectedAgent() != agent {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// Agent returns a copy of the named agent's state.
func (m AgentPaneModel) Agent(name string) (AgentState, bool) {
	a, ok := m.agents[name]
	if !ok {
		return AgentState{}, false
	}
	return *a, true
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 34
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderAgentList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	return paneStyle(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderAgentList renders the agent list column with per-agent totals.
func (m AgentPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := styleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(styleMuted.Render("No calls yet..."))
	}
	for i, name := range m.agentOrder {
		a := m.agents[name]
		line := fmt.Sprintf("%s %s", StatusIcon(a.LastStatus), name)
		if i == m.selectedIdx {
			line = styleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
		fmt.Fprintf(&b, "  calls %d  fail %d  cache %d\n", a.Calls, a.Failures, a.CacheHits)
		fmt.Fprintf(&b, "  tokens %d  avg %s\n", a.Tokens, a.AvgLatency().Round(time.Millisecond))
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

func (m AgentPaneModel) getSelectedAgent() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return ""
}

// updateViewportContent shows the selected agent's activity log.
func (m *AgentPaneModel) updateViewportContent() {
	a, ok := m.agents[m.getSelectedAgent()]
	if !ok {
		m.viewport.SetContent("Waiting for agent calls...")
		return
	}
	m.viewport.SetContent(strings.Join(a.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *AgentPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-34-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
