package render

import (
	"github.com/charmbracelet/glamour"

	"github.com/killallgit/relay/pkg/logger"
)

const markdownWidth = 100

// newMarkdown returns nil when glamour cannot build the style, which leaves
// text on the line renderer
func newMarkdown(style string) *glamour.TermRenderer {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(markdownWidth)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}

	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		logger.WithComponent("render").Warn("markdown rendering disabled: %v", err)
		return nil
	}
	return md
}
