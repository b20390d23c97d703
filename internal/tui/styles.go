package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/cockpit/internal/status"
)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	colorError   = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#EF4444"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#10B981"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#F59E0B"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#404040"}
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
	successStyle  = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1)

	buttonStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#FFFFFF"}).
			Background(colorPrimary)
	disabledButtonStyle = lipgloss.NewStyle().Padding(0, 1).
				Foreground(colorMuted).
				Background(lipgloss.AdaptiveColor{Light: "#F3F4F6", Dark: "#262626"})
)

// stateStyle maps the shared display color onto a lipgloss style.
func stateStyle(d status.Display) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(string(d.Color)))
}
