package flow

import (
	"strings"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/tools"
)

// Input is the flat state of one turn: text and tools kept in separate
// buffers, tied together by the text length at each tool use.
type Input struct {
	Thinking    string
	Text        string
	Tools       []content.ToolUse
	Results     map[string]content.ToolResult
	Checkpoints []int
}

// Assembler turns turn buffers into render items and persisted blocks.
// It never fails; malformed tool input only degrades summaries.
type Assembler struct {
	table *tools.Table
}

// NewAssembler creates an assembler backed by the classification table
func NewAssembler(table *tools.Table) *Assembler {
	if table == nil {
		table = tools.DefaultTable()
	}
	return &Assembler{table: table}
}

// Slice cuts text at each checkpoint and returns len(checkpoints)+1
// segments whose concatenation is exactly text. Checkpoints past the end
// are clamped to len(text); a checkpoint before the previous one yields an
// empty segment.
func Slice(text string, checkpoints []int) []string {
	segments := make([]string, 0, len(checkpoints)+1)
	prev := 0
	for _, cp := range checkpoints {
		end := clamp(cp, prev, len(text))
		segments = append(segments, text[prev:end])
		prev = end
	}
	return append(segments, text[prev:])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// segments pairs each tool with the text before it. Missing checkpoints
// behave like the previous one.
func segments(in Input) []string {
	cps := make([]int, len(in.Tools))
	prev := 0
	for i := range cps {
		if i < len(in.Checkpoints) {
			prev = in.Checkpoints[i]
		}
		cps[i] = prev
	}
	return Slice(in.Text, cps)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Items builds the render sequence. Consecutive tools of the same groupable
// category merge into a group unless non-blank text separates them.
func (a *Assembler) Items(in Input) []Item {
	segs := segments(in)
	var items []Item

	for i, use := range in.Tools {
		if seg := segs[i]; !isBlank(seg) {
			items = append(items, TextItem{Text: seg})
		}
		items = a.appendTool(items, a.toolItem(use, in.Results))
	}

	if tail := segs[len(segs)-1]; !isBlank(tail) {
		items = append(items, TextItem{Text: tail})
	}

	return collapse(items)
}

func (a *Assembler) toolItem(use content.ToolUse, results map[string]content.ToolResult) ToolItem {
	info := a.table.Classify(use.Name)
	item := ToolItem{
		Use:     use,
		Info:    info,
		Summary: tools.Summary(info, use.Input),
	}
	if res, ok := results[use.ID]; ok {
		item.Result = &res
	}
	return item
}

func (a *Assembler) appendTool(items []Item, tool ToolItem) []Item {
	if len(items) > 0 && tool.Info.Category.Groupable() {
		switch last := items[len(items)-1].(type) {
		case ToolItem:
			if last.Info.Category == tool.Info.Category {
				items[len(items)-1] = GroupItem{Category: tool.Info.Category, Tools: []ToolItem{last, tool}}
				return items
			}
		case GroupItem:
			if last.Category == tool.Info.Category {
				last.Tools = append(last.Tools, tool)
				items[len(items)-1] = last
				return items
			}
		}
	}
	return append(items, tool)
}

// collapse turns any group of one back into a single tool
func collapse(items []Item) []Item {
	for i, item := range items {
		if g, ok := item.(GroupItem); ok && len(g.Tools) == 1 {
			items[i] = g.Tools[0]
		}
	}
	return items
}

// Blocks builds the persisted content: thinking first, then text
// interleaved with each tool use followed by its result, then trailing
// text. Results with no matching use are appended at the end.
func (a *Assembler) Blocks(in Input) []content.ContentBlock {
	segs := segments(in)
	var blocks []content.ContentBlock

	if !isBlank(in.Thinking) {
		blocks = append(blocks, content.Thinking{Text: in.Thinking})
	}

	seen := make(map[string]bool, len(in.Tools))
	for i, use := range in.Tools {
		if seg := segs[i]; !isBlank(seg) {
			blocks = append(blocks, content.Text{Text: seg})
		}
		use.Input = content.CloneInput(use.Input)
		blocks = append(blocks, use)
		seen[use.ID] = true
		if res, ok := in.Results[use.ID]; ok {
			blocks = append(blocks, res)
		}
	}

	if tail := segs[len(segs)-1]; !isBlank(tail) {
		blocks = append(blocks, content.Text{Text: tail})
	}

	for _, res := range orphans(in.Results, seen) {
		blocks = append(blocks, res)
	}
	return blocks
}

func orphans(results map[string]content.ToolResult, seen map[string]bool) []content.ToolResult {
	var out []content.ToolResult
	for id, res := range results {
		if !seen[id] {
			out = append(out, res)
		}
	}
	// map order is random; keep output deterministic
	sortResults(out)
	return out
}

// FromBlocks rebuilds turn buffers from persisted blocks, so a stored
// message renders the same way the live turn did. Code blocks fold back into
// the text as fenced snippets.
func FromBlocks(blocks []content.ContentBlock) Input {
	in := Input{Results: make(map[string]content.ToolResult)}
	var text strings.Builder
	var thinking []string

	for _, b := range blocks {
		switch v := b.(type) {
		case content.Thinking:
			thinking = append(thinking, v.Text)
		case content.Text:
			text.WriteString(v.Text)
		case content.Code:
			text.WriteString("\n```" + v.Language + "\n" + v.Code + "\n```\n")
		case content.Image:
			text.WriteString("[image " + v.Source + "]")
		case content.ToolUse:
			in.Tools = append(in.Tools, v)
			in.Checkpoints = append(in.Checkpoints, text.Len())
		case content.ToolResult:
			in.Results[v.ToolUseID] = v
		}
	}

	in.Text = text.String()
	in.Thinking = strings.Join(thinking, "\n\n")
	return in
}
