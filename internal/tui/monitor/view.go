package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/portal/internal/portal"
)

var tabTitles = [tabCount]string{"Branding", "Links"}

// renderView renders the complete TUI view
func (m *Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	bodyHeight := m.Height - lipgloss.Height(header) - lipgloss.Height(footer) - 2
	body := panelStyle.Width(m.Width - 2).Render(m.renderBody(max(bodyHeight, 1)))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// renderCompact renders a minimal view for small terminals
func (m *Model) renderCompact() string {
	var s strings.Builder
	fmt.Fprintf(&s, "%s (resize for full view)\n\n", m.Effective.TitleOrDefault())
	for _, role := range portal.Roles {
		fmt.Fprintf(&s, "%s: %d\n", role, len(m.Effective.Links[role]))
	}
	if HasDraft(m.Override) {
		s.WriteString("draft pending\n")
	}
	s.WriteString("\nq:quit r:reload")
	return s.String()
}

func (m *Model) renderHeader() string {
	title := accentStyle(m.Effective.Branding.Colors["primary"]).Render(m.Effective.TitleOrDefault())
	if HasDraft(m.Override) {
		title += " " + draftStyle.Render("DRAFT")
	}

	tabs := make([]string, 0, tabCount)
	for i, name := range tabTitles {
		if Tab(i) == m.ActiveTab {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, tabStyle.Render(name))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
}

func (m *Model) renderBody(height int) string {
	var rows []Row
	var heading string
	switch m.ActiveTab {
	case TabLinks:
		heading = m.renderRoles()
		rows = LinkRows(m.Effective, m.Override, m.Role())
	default:
		rows = BrandingRows(m.Effective, m.Override)
	}

	var lines []string
	if heading != "" {
		lines = append(lines, heading, "")
		height -= 2
	}
	if len(rows) == 0 {
		lines = append(lines, subtleStyle.Render("Nothing configured"))
		return strings.Join(lines, "\n")
	}

	offset := min(m.Scroll, max(len(rows)-height, 0))
	end := min(offset+height, len(rows))
	width := m.Width - 6
	for _, r := range rows[offset:end] {
		lines = append(lines, m.renderRow(r, width))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderRoles() string {
	parts := make([]string, 0, len(portal.Roles))
	for i, role := range portal.Roles {
		label := fmt.Sprintf("%s (%d)", role, len(m.Effective.Links[role]))
		if i == m.RoleIndex {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderRow(r Row, width int) string {
	labelWidth := min(24, width/3)
	label := labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, ansi.Truncate(r.Label, labelWidth, "…")))

	valueWidth := width - labelWidth - 9
	value := r.Value
	switch {
	case r.Color:
		value = swatch(value)
	case value == "":
		value = subtleStyle.Render("-")
	default:
		value = ansi.Truncate(value, max(valueWidth, 1), "…")
	}

	line := label + " " + value
	if r.Draft {
		line += " " + draftStyle.Render("draft")
	}
	return line
}

func (m *Model) renderFooter() string {
	status := subtleStyle.Render(fmt.Sprintf("changes: %d  last: %s", m.Changes, m.LastChange.Format("15:04:05")))
	switch {
	case m.Loading:
		status += "  " + subtleStyle.Render("reloading…")
	case m.Err != nil:
		status += "  " + errorStyle.Render(ansi.Truncate(m.Err.Error(), max(m.Width-40, 10), "…"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, status, m.help.View(m.keys))
}
