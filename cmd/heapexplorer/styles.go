package main

import "github.com/charmbracelet/lipgloss"

var (
	// Color palette
	primaryColor = lipgloss.Color("#7D56F4")
	liveColor    = lipgloss.Color("#04B575")
	freeColor    = lipgloss.Color("#00D7FF")
	mutedColor   = lipgloss.Color("#666666")
	borderColor  = lipgloss.Color("#383838")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	liveCellStyle = lipgloss.NewStyle().Foreground(liveColor)
	freeCellStyle = lipgloss.NewStyle().Foreground(freeColor)
	gapCellStyle  = lipgloss.NewStyle().Foreground(mutedColor)

	statStyle = lipgloss.NewStyle().Foreground(freeColor)
	helpStyle = lipgloss.NewStyle().Foreground(mutedColor)
)
