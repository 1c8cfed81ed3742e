package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme of terminal output.
type Theme struct {
	Name      string
	Primary   lipgloss.Color // Accent, assistant label
	Dim       lipgloss.Color // Timestamps, help text
	User      lipgloss.Color // User label
	Text      lipgloss.Color // Message body
	Error     lipgloss.Color // Failure notices
	CodeBlock lipgloss.Color // Background of code badges
}

var (
	LightTheme = Theme{
		Name:      "light",
		Primary:   lipgloss.Color("#4f46e5"),
		Dim:       lipgloss.Color("#6b7280"),
		User:      lipgloss.Color("#111827"),
		Text:      lipgloss.Color("#1f2937"),
		Error:     lipgloss.Color("#dc2626"),
		CodeBlock: lipgloss.Color("#e5e7eb"),
	}

	DarkTheme = Theme{
		Name:      "dark",
		Primary:   lipgloss.Color("#818cf8"),
		Dim:       lipgloss.Color("#6e7681"),
		User:      lipgloss.Color("#f3f4f6"),
		Text:      lipgloss.Color("#d1d5db"),
		Error:     lipgloss.Color("#f87171"),
		CodeBlock: lipgloss.Color("#1f2937"),
	}

	AmoledTheme = Theme{
		Name:      "amoled",
		Primary:   lipgloss.Color("#00ff9f"),
		Dim:       lipgloss.Color("#4b5563"),
		User:      lipgloss.Color("#ffffff"),
		Text:      lipgloss.Color("#e5e7eb"),
		Error:     lipgloss.Color("#ff5555"),
		CodeBlock: lipgloss.Color("#000000"),
	}
)

// ThemeNamed returns the theme with the given name, DarkTheme when unknown.
func ThemeNamed(name string) Theme {
	switch name {
	case LightTheme.Name:
		return LightTheme
	case AmoledTheme.Name:
		return AmoledTheme
	}
	return DarkTheme
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Body      lipgloss.Style
	Help      lipgloss.Style
	Error     lipgloss.Style
	Badge     lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:     lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		User:      lipgloss.NewStyle().Bold(true).Foreground(t.User),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Body:      lipgloss.NewStyle().Foreground(t.Text),
		Help:      lipgloss.NewStyle().Foreground(t.Dim),
		Error:     lipgloss.NewStyle().Foreground(t.Error),
		Badge:     lipgloss.NewStyle().Foreground(t.Primary).Background(t.CodeBlock).Padding(0, 1),
	}
}

// truncateString safely truncates a string to the given width,
// handling multi-byte characters correctly.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	currentWidth := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if currentWidth+w > width {
			return string(runes[:i])
		}
		currentWidth += w
	}
	return s
}
