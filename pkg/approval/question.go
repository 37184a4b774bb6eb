package approval

import (
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/tools"
)

// Option is one selectable answer
type Option struct {
	Label       string
	Description string
}

// Question is one elicitation prompt
type Question struct {
	Header      string
	Text        string
	Options     []Option
	MultiSelect bool
	AllowOther  bool
}

// ParseQuestions reads the questions of an askuserquestion input. Malformed
// entries are skipped rather than rejected.
func ParseQuestions(input map[string]any) []Question {
	raw := tools.ListField(input, "questions")
	if raw == nil {
		if text := tools.StringField(input, "question"); text != "" {
			raw = []any{input}
		}
	}

	var out []Question
	for _, item := range raw {
		m := tools.MapValue(item)
		text := tools.StringField(m, "question", "text", "prompt")
		if text == "" {
			continue
		}
		q := Question{
			Header:      tools.StringField(m, "header"),
			Text:        text,
			MultiSelect: tools.BoolField(m, "multiSelect") || tools.BoolField(m, "multi_select"),
			AllowOther:  true,
		}
		if v, ok := m["allowOther"].(bool); ok {
			q.AllowOther = v
		}
		for _, opt := range tools.ListField(m, "options") {
			switch o := opt.(type) {
			case string:
				if o != "" {
					q.Options = append(q.Options, Option{Label: o})
				}
			case map[string]any:
				if label := tools.StringField(o, "label", "value"); label != "" {
					q.Options = append(q.Options, Option{Label: label, Description: tools.StringField(o, "description")})
				}
			}
		}
		out = append(out, q)
	}
	return out
}

// MergeAnswers returns a copy of the original input carrying the answers,
// so the assistant can match answers to its questions.
func MergeAnswers(input map[string]any, answers map[string]any) map[string]any {
	merged := content.CloneInput(input)
	if merged == nil {
		merged = make(map[string]any, 1)
	}
	if answers == nil {
		answers = map[string]any{}
	}
	merged["answers"] = answers
	return merged
}
