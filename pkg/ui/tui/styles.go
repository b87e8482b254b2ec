package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accentCyan    = lipgloss.Color("#00D7D7")
	accentMagenta = lipgloss.Color("#D75FD7")
	accentGreen   = lipgloss.Color("#5FD75F")
	accentYellow  = lipgloss.Color("#D7D75F")
	accentOrange  = lipgloss.Color("#FF8700")
	alertRed      = lipgloss.Color("#FF3030")
	panelBg       = lipgloss.Color("#1C1C2C")
	dimWhite      = lipgloss.Color("#B0B0B0")

	headerStyle = lipgloss.NewStyle().
			Foreground(accentCyan).
			Bold(true).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentMagenta).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(accentMagenta).
			Foreground(panelBg).
			Bold(true).
			Padding(0, 1)

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(accentCyan).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(accentYellow)

	successStyle = lipgloss.NewStyle().
			Foreground(accentGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(alertRed).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(accentOrange).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	positionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#808080"))

	logTimestampStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 0, 0, 1)
)

// entryStyle picks the marker and style for an activity line
func entryStyle(state EntryState) (string, lipgloss.Style) {
	switch state {
	case EntryOverflowed:
		return "↪", warningStyle
	case EntrySkipped:
		return "-", dimStyle
	case EntryFailed:
		return "✗", errorStyle
	default:
		return "✓", successStyle
	}
}
