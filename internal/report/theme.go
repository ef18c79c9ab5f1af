package report

import "github.com/charmbracelet/lipgloss"

var (
	primary = lipgloss.Color("#7C3AED") // violet
	success = lipgloss.Color("#22C55E") // green
	warning = lipgloss.Color("#F59E0B") // amber
	danger  = lipgloss.Color("#EF4444") // red
	muted   = lipgloss.Color("#6B7280") // gray
	text    = lipgloss.Color("#E5E7EB") // light gray

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary)

	labelStyle = lipgloss.NewStyle().
			Foreground(muted).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(text).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warning).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(danger).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(success).
		Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(primary).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)
)
