package render

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter colors code and patches with chroma. A nil *Highlighter, or
// one without a formatter, returns input unchanged.
type Highlighter struct {
	style     *chroma.Style
	formatter chroma.Formatter
}

// NewHighlighter creates a terminal256 highlighter; style "" means monokai
func NewHighlighter(style string) *Highlighter {
	if style == "" {
		style = "monokai"
	}
	s := styles.Get(style)
	if s == nil {
		s = styles.Fallback
	}
	return &Highlighter{style: s, formatter: formatters.Get("terminal256")}
}

// Code highlights code in language, guessing from the content when the
// language is unknown. Any failure returns the code as is.
func (h *Highlighter) Code(code, language string) string {
	if h == nil || h.formatter == nil {
		return code
	}

	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

// Patch highlights a unified patch
func (h *Highlighter) Patch(patch string) string {
	return h.Code(patch, "diff")
}

// LanguageFor guesses a language name from a file path
func LanguageFor(path string) string {
	if lexer := lexers.Match(filepath.Base(path)); lexer != nil {
		return strings.ToLower(lexer.Config().Name)
	}
	return ""
}
