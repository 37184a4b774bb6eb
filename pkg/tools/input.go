package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxSummaryLen = 80

// StringField returns the first non-empty string stored under any of keys.
// Missing keys and non-string values yield "".
func StringField(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := input[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// BoolField returns the bool stored under key, or false
func BoolField(input map[string]any, key string) bool {
	b, _ := input[key].(bool)
	return b
}

// ListField returns the slice stored under key, or nil
func ListField(input map[string]any, key string) []any {
	list, _ := input[key].([]any)
	return list
}

// MapValue converts v to a string-keyed map, or nil
func MapValue(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// FilePath extracts the path a file tool operates on
func FilePath(input map[string]any) string {
	return StringField(input, "file_path", "path", "notebook_path", "filename", "target_file")
}

// Summary renders a one-line description of a tool call for display. It never
// fails: anything it cannot read becomes "".
func Summary(info Info, input map[string]any) string {
	var s string

	switch info.Kind {
	case KindTodo:
		if n := len(ListField(input, "todos")); n > 0 {
			s = fmt.Sprintf("%d items", n)
		}
	case KindSubagent:
		s = StringField(input, "description", "prompt")
	case KindQuestion:
		if qs := ListField(input, "questions"); len(qs) > 0 {
			s = StringField(MapValue(qs[0]), "question", "header")
		} else {
			s = StringField(input, "question")
		}
	case KindPlanExit:
		s = firstLine(StringField(input, "plan"))
	}
	if s != "" {
		return truncate(s)
	}

	switch info.Category {
	case CategoryRead, CategoryEdit:
		if p := FilePath(input); p != "" {
			s = filepath.Base(p)
		} else {
			s = StringField(input, "pattern")
		}
	case CategoryBash:
		s = firstLine(StringField(input, "command", "cmd", "description"))
	case CategorySearch:
		s = StringField(input, "pattern", "query", "glob", "url", "path")
	default:
		s = StringField(input, "description", "url", "query", "command", "file_path", "path")
	}
	return truncate(s)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxSummaryLen {
		return s
	}
	return string(runes[:maxSummaryLen-1]) + "…"
}
