package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Next     key.Binding
	Prev     key.Binding
	Sessions key.Binding
	Agents   key.Binding
	Down     key.Binding
	Up       key.Binding
	Settings key.Binding
	Back     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Next:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next pane")),
	Prev:     key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous pane")),
	Sessions: key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "sessions")),
	Agents:   key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "agents")),
	Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
	Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
	Settings: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "agent settings")),
	Back:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Sessions, k.Agents, k.Down, k.Up, k.Settings, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Prev, k.Back}}
}

func helpView(h help.Model) string {
	return h.View(keys)
}
