package ui

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.Color("#00D7D7")
	magenta = lipgloss.Color("#D75FD7")
	green   = lipgloss.Color("#5FD75F")
	yellow  = lipgloss.Color("#D7D75F")
	red     = lipgloss.Color("#FF5F5F")
	dim     = lipgloss.Color("#8A8A8A")

	labelStyle   = lipgloss.NewStyle().Foreground(accent).Bold(true)
	valueStyle   = lipgloss.NewStyle().Foreground(yellow)
	successStyle = lipgloss.NewStyle().Foreground(green).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	errorStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dim)
	barStyle     = lipgloss.NewStyle().Foreground(green)
	bannerStyle  = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(magenta).
			Padding(0, 2)
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(dim).
			Padding(0, 1)
)

// palette renders text through lipgloss unless color is disabled
type palette struct {
	noColor bool
}

func (p palette) render(s lipgloss.Style, text string) string {
	if p.noColor {
		return text
	}
	return s.Render(text)
}

func (p palette) box(s lipgloss.Style, text string) string {
	if p.noColor {
		return text
	}
	return s.Render(text)
}
