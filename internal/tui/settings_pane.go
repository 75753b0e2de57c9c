package tui

import (
	"fmt"
	"maps"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/kemerova/argus/internal/config"
)

type agentFields struct {
	provider string
	model    string
}

// SettingsPaneModel edits agent providers and models and saves them.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form bindings are pointers so they survive the model being copied.
	saveTarget *string
	agents     map[string]*agentFields
}

// NewSettingsPaneModel creates a settings pane bound to cfg.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.buildForm()
	return m
}

// buildForm constructs one group per agent, seeded from the current config.
func (m *SettingsPaneModel) buildForm() {
	target := "project"
	m.saveTarget = &target
	m.agents = make(map[string]*agentFields, len(m.config.Agents))

	var providers []huh.Option[string]
	for _, name := range slices.Sorted(maps.Keys(m.config.Providers)) {
		providers = append(providers, huh.NewOption(name, name))
	}

	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.argus/config.yaml)", "global"),
					huh.NewOption("Project (.argus/config.yaml)", "project"),
				).
				Value(m.saveTarget),
		).Title("Save Target"),
	}

	for _, name := range slices.Sorted(maps.Keys(m.config.Agents)) {
		a := m.config.Agents[name]
		f := &agentFields{provider: a.Provider, model: a.Model}
		m.agents[name] = f

		groups = append(groups, huh.NewGroup(
			huh.NewSelect[string]().
				Key(name+".provider").
				Title("Provider").
				Options(providers...).
				Value(&f.provider),
			huh.NewInput().
				Key(name+".model").
				Title("Model").
				Placeholder("provider default").
				Value(&f.model),
		).Title(fmt.Sprintf("Agent %s (%s)", name, a.Role)))
	}

	m.form = huh.NewForm(groups...)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, keys.Back) {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.globalPath
		if *m.saveTarget == "project" {
			targetPath = m.projectPath
		}

		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() {
	for name, f := range m.agents {
		a, ok := m.config.Agents[name]
		if !ok {
			continue
		}
		a.Provider = f.provider
		a.Model = f.model
		m.config.Agents[name] = a
	}
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	switch {
	case m.err != nil:
		content = styleError.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	default:
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(1, 2).
		Width(max(m.width-4, 0)).
		Height(max(m.height-4, 0))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorAccent).
		Render("⚙ Agent settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(max(w-8, 20)).WithHeight(max(h-8, 5))
	}
}

// SetVisible shows or hides the settings pane, resetting the form when shown.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
