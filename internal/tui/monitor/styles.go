package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/portal/internal/color"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	subtleStyle = lipgloss.NewStyle().Foreground(mutedColor)
	draftStyle  = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)
)

// swatch renders a color value on itself. Values that are not colors are
// shown as is in the error style.
func swatch(value string) string {
	hex, ok := color.Normalize(value)
	if !ok {
		return errorStyle.Render(value)
	}
	if hex == "" || hex == color.Transparent {
		return subtleStyle.Render("(" + value + ")")
	}
	rgb, _ := color.Parse(hex)
	return lipgloss.NewStyle().
		Background(lipgloss.Color(rgb.Solid())).
		Foreground(lipgloss.Color(color.ReadableTextColor(hex))).
		Render(" " + hex + " ")
}

// accentStyle colors the header with the configured primary color.
func accentStyle(primary string) lipgloss.Style {
	hex, ok := color.Normalize(primary)
	if !ok || hex == "" || hex == color.Transparent {
		return titleStyle
	}
	rgb, _ := color.Parse(hex)
	return lipgloss.NewStyle().Bold(true).
		Background(lipgloss.Color(rgb.Solid())).
		Foreground(lipgloss.Color(color.ReadableTextColor(hex))).
		Padding(0, 1)
}
