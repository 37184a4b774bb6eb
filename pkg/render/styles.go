package render

import (
	"github.com/charmbracelet/lipgloss"
)

// Warm base16 palette
var (
	ColorBase03 = lipgloss.Color("#5c5044") // comments, muted text
	ColorBase05 = lipgloss.Color("#ab937b") // default foreground
	ColorBase07 = lipgloss.Color("#f5d7b9") // lightest foreground

	ColorRed    = lipgloss.Color("#d95f5f") // errors, deletions
	ColorOrange = lipgloss.Color("#eb8755")
	ColorYellow = lipgloss.Color("#f5b761") // warnings
	ColorGreen  = lipgloss.Color("#93b56b") // success, additions
	ColorCyan   = lipgloss.Color("#61afaf")
	ColorBlue   = lipgloss.Color("#6b93b5")
	ColorPurple = lipgloss.Color("#976bb5")
	ColorViolet = lipgloss.Color("#6c71c4") // planning
)

// Styles holds every lipgloss style the renderer uses
type Styles struct {
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	UserText       lipgloss.Style
	AssistantText  lipgloss.Style
	Thinking       lipgloss.Style
	Stopped        lipgloss.Style
	Error          lipgloss.Style

	ToolName    lipgloss.Style
	ToolSummary lipgloss.Style
	ToolPending lipgloss.Style
	ToolOK      lipgloss.Style
	ToolFailed  lipgloss.Style
	GroupTitle  lipgloss.Style

	Additions lipgloss.Style
	Deletions lipgloss.Style
	Muted     lipgloss.Style
	Heading   lipgloss.Style
	Plan      lipgloss.Style
	Prompt    lipgloss.Style
}

// DefaultStyles returns the colored styles
func DefaultStyles() *Styles {
	return &Styles{
		UserLabel:      lipgloss.NewStyle().Foreground(ColorOrange).Bold(true),
		AssistantLabel: lipgloss.NewStyle().Foreground(ColorCyan).Bold(true),
		UserText:       lipgloss.NewStyle().Foreground(ColorBase07),
		AssistantText:  lipgloss.NewStyle().Foreground(ColorBase05),
		Thinking:       lipgloss.NewStyle().Foreground(ColorBase03).Italic(true),
		Stopped:        lipgloss.NewStyle().Foreground(ColorYellow).Italic(true),
		Error: lipgloss.NewStyle().
			Foreground(ColorRed).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorRed).
			PaddingLeft(1),

		ToolName:    lipgloss.NewStyle().Foreground(ColorBlue).Bold(true),
		ToolSummary: lipgloss.NewStyle().Foreground(ColorBase05),
		ToolPending: lipgloss.NewStyle().Foreground(ColorYellow),
		ToolOK:      lipgloss.NewStyle().Foreground(ColorGreen),
		ToolFailed:  lipgloss.NewStyle().Foreground(ColorRed),
		GroupTitle:  lipgloss.NewStyle().Foreground(ColorPurple).Bold(true),

		Additions: lipgloss.NewStyle().Foreground(ColorGreen),
		Deletions: lipgloss.NewStyle().Foreground(ColorRed),
		Muted:     lipgloss.NewStyle().Foreground(ColorBase03),
		Heading:   lipgloss.NewStyle().Foreground(ColorOrange).Bold(true).Underline(true),
		Plan: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorViolet).
			Padding(0, 1),
		Prompt: lipgloss.NewStyle().Foreground(ColorYellow).Bold(true),
	}
}

// PlainStyles returns styles without colors or borders, for pipes and tests
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		UserLabel: plain, AssistantLabel: plain, UserText: plain, AssistantText: plain,
		Thinking: plain, Stopped: plain, Error: plain,
		ToolName: plain, ToolSummary: plain, ToolPending: plain, ToolOK: plain, ToolFailed: plain,
		GroupTitle: plain, Additions: plain, Deletions: plain, Muted: plain, Heading: plain,
		Plan: plain, Prompt: plain,
	}
}
