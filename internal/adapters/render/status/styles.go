package status

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	room      lipgloss.Style
	detail    lipgloss.Style
	warning   lipgloss.Style
	success   lipgloss.Style
	pending   lipgloss.Style
	section   lipgloss.Style
	empty     lipgloss.Style
	key       lipgloss.Style
	meta      lipgloss.Style
	badgeDim  lipgloss.Style
	badgeLive lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		room:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		success:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78")),
		pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
		section:   lipgloss.NewStyle().MarginTop(1),
		empty:     lipgloss.NewStyle().Faint(true),
		key:       lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		meta:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		badgeDim:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		badgeLive: lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
	}
}
