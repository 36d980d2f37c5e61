// Package output provides styled terminal output helpers (success, error,
// warning, link and color formatting) using lipgloss.
package output

import (
	"cmp"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/portal/internal/color"
	"github.com/marcus/portal/internal/portal"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	draftStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNetwork      = "network_error"
	ErrCodeStorage      = "storage_error"
	ErrCodeNoWorker     = "no_worker"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// ColorSwatch renders value on its own color with a readable text color.
// Invalid colors are shown struck through in the error style.
func ColorSwatch(value string) string {
	hex, ok := color.Normalize(value)
	if !ok {
		return errorStyle.Strikethrough(true).Render(value)
	}
	if hex == "" || hex == color.Transparent {
		return subtleStyle.Render("(" + cmp.Or(hex, "none") + ")")
	}
	rgb, _ := color.Parse(hex)
	return lipgloss.NewStyle().
		Background(lipgloss.Color(rgb.Solid())).
		Foreground(lipgloss.Color(color.ReadableTextColor(hex))).
		Padding(0, 1).
		Render(hex)
}

// DraftBadge marks values that come from the local override.
func DraftBadge(draft bool) string {
	if !draft {
		return ""
	}
	return draftStyle.Render("[draft]")
}

// FormatColors lists the branding colors sorted by key, one per line.
func FormatColors(colors map[string]string, drafted map[string]bool) string {
	keys := make([]string, 0, len(colors))
	for k := range colors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		line := fmt.Sprintf("  %-24s %s", k, ColorSwatch(colors[k]))
		if badge := DraftBadge(drafted[k]); badge != "" {
			line += " " + badge
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// FormatSummary formats the headline of an effective configuration.
func FormatSummary(cfg portal.Config, draft bool) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(cfg.TitleOrDefault()))
	if badge := DraftBadge(draft); badge != "" {
		sb.WriteString("  " + badge)
	}
	sb.WriteString("\n")
	if cfg.Branding.Tagline != nil && *cfg.Branding.Tagline != "" {
		sb.WriteString(subtleStyle.Render(*cfg.Branding.Tagline) + "\n")
	}
	if cfg.Branding.StatusMessage != nil && *cfg.Branding.StatusMessage != "" {
		sb.WriteString(warningStyle.Render(*cfg.Branding.StatusMessage) + "\n")
	}
	for _, role := range portal.Roles {
		sb.WriteString(fmt.Sprintf("  %-10s %d links\n", role, len(cfg.Links[role])))
	}
	if cfg.Updated != nil {
		if t, err := time.Parse(time.RFC3339, *cfg.Updated); err == nil {
			sb.WriteString(subtleStyle.Render("updated "+FormatTimeAgo(t)) + "\n")
		}
	}
	return sb.String()
}

// LinksMarkdown builds the markdown listing of a role's links. An empty role
// renders every role.
func LinksMarkdown(cfg portal.Config, role portal.Role) string {
	roles := portal.Roles
	if role != "" {
		roles = []portal.Role{role}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", cfg.TitleOrDefault())
	for _, r := range roles {
		fmt.Fprintf(&sb, "\n## %s\n\n", r)
		links := cfg.Links[r]
		if len(links) == 0 {
			sb.WriteString("_No links._\n")
			continue
		}
		for _, l := range links {
			fmt.Fprintf(&sb, "- [%s](%s)", l.Title, l.URL)
			if l.Description != "" {
				fmt.Fprintf(&sb, ": %s", l.Description)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCOLORS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
