package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent = lipgloss.Color("62")
	colorMuted  = lipgloss.Color("240")
	colorOK     = lipgloss.Color("green")
	colorBusy   = lipgloss.Color("yellow")
	colorError  = lipgloss.Color("red")
)

var (
	styleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleOK       = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	styleError    = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleSelected = lipgloss.NewStyle().Background(colorAccent).Foreground(lipgloss.Color("0"))
)

// paneStyle is the bordered frame of a pane; the accent color marks focus.
func paneStyle(focused bool) lipgloss.Style {
	border := colorMuted
	if focused {
		border = colorAccent
	}
	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border)
}

// StatusIcon returns a colored indicator for a run, phase, or call status.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return lipgloss.NewStyle().Foreground(colorBusy).Bold(true).Render("●")
	case "completed", "ok":
		return styleOK.Render("✓")
	case "failed", "cancelled":
		return styleError.Render("✗")
	default:
		return styleMuted.Render("○")
	}
}
