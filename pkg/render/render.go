package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/killallgit/relay/pkg/activity"
	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/flow"
	"github.com/killallgit/relay/pkg/tools"
)

const (
	iconPending = "○"
	iconOK      = "✓"
	iconFailed  = "✗"
	iconAgent   = "●"
)

// Options configures a Renderer
type Options struct {
	ShowThinking bool
	// Plain drops colors and code highlighting
	Plain bool
	// CodeStyle is a chroma style name
	CodeStyle string
	// Markdown renders response text through glamour instead of line styling
	Markdown bool
	// MarkdownStyle is a glamour style name; empty picks one for the terminal
	MarkdownStyle string
	Table         *tools.Table
}

// Renderer turns conversation state into terminal text. It holds no state
// between calls and is safe for concurrent use.
type Renderer struct {
	styles       *Styles
	hl           *Highlighter
	md           *glamour.TermRenderer
	assembler    *flow.Assembler
	showThinking bool
}

// New creates a renderer
func New(opts Options) *Renderer {
	r := &Renderer{
		styles:       DefaultStyles(),
		hl:           NewHighlighter(opts.CodeStyle),
		assembler:    flow.NewAssembler(opts.Table),
		showThinking: opts.ShowThinking,
	}
	if opts.Plain {
		r.styles = PlainStyles()
		r.hl = nil
	} else if opts.Markdown {
		r.md = newMarkdown(opts.MarkdownStyle)
	}
	return r
}

// Message renders a stored message. Assistant messages go through the same
// item sequence a live turn shows.
func (r *Renderer) Message(m content.Message) string {
	var sb strings.Builder

	if m.IsUser() {
		sb.WriteString(r.styles.UserLabel.Render("you ›"))
		sb.WriteString(" ")
		sb.WriteString(r.styles.UserText.Render(m.PlainText()))
		for _, b := range m.Content {
			if img, ok := b.(content.Image); ok {
				sb.WriteString("\n")
				sb.WriteString(r.styles.Muted.Render("  [image " + img.Source + "]"))
			}
		}
		return sb.String()
	}

	blocks := m.Content
	if m.Failed && len(blocks) > 0 {
		blocks = blocks[:len(blocks)-1]
	}
	in := flow.FromBlocks(blocks)

	sb.WriteString(r.styles.AssistantLabel.Render("assistant ›"))
	if r.showThinking && strings.TrimSpace(in.Thinking) != "" {
		sb.WriteString("\n")
		sb.WriteString(r.Thinking(in.Thinking))
	}
	if body := r.Items(r.assembler.Items(in)); body != "" {
		sb.WriteString("\n")
		sb.WriteString(body)
	}
	if m.Stopped {
		sb.WriteString("\n")
		sb.WriteString(r.styles.Stopped.Render("(stopped)"))
	}
	if m.Failed {
		sb.WriteString("\n")
		sb.WriteString(r.ErrorBlock(m.ErrorText()))
	}
	return sb.String()
}

// Thinking renders reasoning text
func (r *Renderer) Thinking(text string) string {
	return r.styles.Thinking.Render(strings.TrimSpace(text))
}

// Items renders a turn's item sequence, one item per paragraph
func (r *Renderer) Items(items []flow.Item) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if s := r.Item(item); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Item renders one item
func (r *Renderer) Item(item flow.Item) string {
	switch v := item.(type) {
	case flow.TextItem:
		return r.Text(v.Text)
	case flow.ToolItem:
		return r.Tool(v)
	case flow.GroupItem:
		return r.Group(v)
	}
	return ""
}

// Text renders response text, highlighting fenced code. An unclosed fence
// is highlighted up to the end, as it is while the code still streams.
func (r *Renderer) Text(text string) string {
	if r.md != nil {
		if out, err := r.md.Render(text); err == nil {
			return strings.Trim(out, "\n")
		}
	}

	var out []string
	var code []string
	lang := ""
	inCode := false

	flush := func() {
		out = append(out, r.hl.Code(strings.Join(code, "\n"), lang))
		code = nil
	}

	for _, line := range strings.Split(strings.Trim(text, "\n"), "\n") {
		fence := strings.HasPrefix(strings.TrimSpace(line), "```")
		switch {
		case fence && !inCode:
			inCode = true
			lang = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "```"))
		case fence && inCode:
			inCode = false
			flush()
		case inCode:
			code = append(code, line)
		default:
			out = append(out, r.styles.AssistantText.Render(line))
		}
	}
	if inCode {
		flush()
	}
	return strings.Join(out, "\n")
}

func (r *Renderer) status(t flow.ToolItem) string {
	switch {
	case t.Pending():
		return r.styles.ToolPending.Render(iconPending)
	case t.Failed():
		return r.styles.ToolFailed.Render(iconFailed)
	}
	return r.styles.ToolOK.Render(iconOK)
}

func displayName(info tools.Info) string {
	if info.DisplayName != "" {
		return info.DisplayName
	}
	return info.Name
}

// Tool renders one tool line, with the first line of a failed result under it
func (r *Renderer) Tool(t flow.ToolItem) string {
	line := r.status(t) + " " + r.styles.ToolName.Render(displayName(t.Info))
	if t.Summary != "" {
		line += " " + r.styles.ToolSummary.Render(t.Summary)
	}
	if t.Failed() {
		if msg := firstLine(t.Result.Content); msg != "" {
			line += "\n  " + r.styles.ToolFailed.Render("└ "+msg)
		}
	}
	return line
}

// Group renders a summary line followed by one indented line per tool
func (r *Renderer) Group(g flow.GroupItem) string {
	icon := r.styles.ToolOK.Render(iconOK)
	for _, t := range g.Tools {
		if t.Pending() {
			icon = r.styles.ToolPending.Render(iconPending)
			break
		}
		if t.Failed() {
			icon = r.styles.ToolFailed.Render(iconFailed)
		}
	}

	title := g.Title()
	if n := g.Failures(); n > 0 {
		title += fmt.Sprintf(" (%d failed)", n)
	}

	lines := []string{icon + " " + r.styles.GroupTitle.Render(title)}
	for _, t := range g.Tools {
		summary := t.Summary
		if summary == "" {
			summary = displayName(t.Info)
		}
		lines = append(lines, "  "+r.status(t)+" "+r.styles.ToolSummary.Render(summary))
	}
	return strings.Join(lines, "\n")
}

// ErrorBlock renders an inline error
func (r *Renderer) ErrorBlock(text string) string {
	if text == "" {
		text = "Unknown error"
	}
	return r.styles.Error.Render("error: " + text)
}

// DiffStats renders "+3 -1"
func (r *Renderer) DiffStats(additions, deletions int) string {
	return r.styles.Additions.Render(fmt.Sprintf("+%d", additions)) + " " +
		r.styles.Deletions.Render(fmt.Sprintf("-%d", deletions))
}

// Todos renders the task list
func (r *Renderer) Todos(todos []activity.Todo) string {
	if len(todos) == 0 {
		return r.styles.Muted.Render("no todos")
	}
	lines := make([]string, 0, len(todos))
	for _, t := range todos {
		switch t.Status {
		case activity.TodoCompleted:
			lines = append(lines, r.styles.ToolOK.Render("[x] ")+r.styles.Muted.Render(t.Content))
		case activity.TodoInProgress:
			text := t.ActiveForm
			if text == "" {
				text = t.Content
			}
			lines = append(lines, r.styles.ToolPending.Render("[~] ")+text)
		default:
			lines = append(lines, "[ ] "+t.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// Files renders changed files with their line counts, and the latest patch
// of each when withPatch is set
func (r *Renderer) Files(files []activity.FileChange, withPatch bool) string {
	if len(files) == 0 {
		return r.styles.Muted.Render("no file changes")
	}

	var lines []string
	totalAdd, totalDel := 0, 0
	for _, f := range files {
		totalAdd += f.Additions
		totalDel += f.Deletions
		lines = append(lines, fmt.Sprintf("%s %s %s", f.Path, r.DiffStats(f.Additions, f.Deletions),
			r.styles.Muted.Render(fmt.Sprintf("(%d edits)", f.Edits))))
		if withPatch && f.Patch != "" {
			lines = append(lines, r.hl.Patch(f.Patch))
		}
	}
	lines = append(lines, fmt.Sprintf("%d files %s", len(files), r.DiffStats(totalAdd, totalDel)))
	return strings.Join(lines, "\n")
}

// Subagents renders delegated agents
func (r *Renderer) Subagents(agents []activity.Subagent) string {
	if len(agents) == 0 {
		return r.styles.Muted.Render("no agents")
	}
	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		style := r.styles.ToolPending
		switch a.Status {
		case activity.SubagentCompleted:
			style = r.styles.ToolOK
		case activity.SubagentError:
			style = r.styles.ToolFailed
		}
		name := a.Type
		if name == "" {
			name = "agent"
		}
		line := style.Render(iconAgent) + " " + r.styles.ToolName.Render(name)
		if a.Description != "" {
			line += " " + a.Description
		}
		line += " " + r.styles.Muted.Render("("+string(a.Status)+")")
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Plan renders a plan in a box
func (r *Renderer) Plan(text string) string {
	return r.styles.Heading.Render("Plan") + "\n" + r.styles.Plan.Render(strings.TrimSpace(text))
}

// Approval renders the prompt for a pending approval
func (r *Renderer) Approval(req approval.Request) string {
	switch req.Kind {
	case approval.KindPlanApproval:
		return r.Plan(req.Plan) + "\n" +
			r.styles.Prompt.Render("Approve plan? [y]es / [c]ompact and proceed / [n]o")

	case approval.KindQuestion:
		var lines []string
		for i, q := range req.Questions {
			head := q.Text
			if q.Header != "" {
				head = q.Header + ": " + q.Text
			}
			lines = append(lines, r.styles.Heading.Render(fmt.Sprintf("Q%d", i+1))+" "+head)
			for j, opt := range q.Options {
				line := fmt.Sprintf("  %d. %s", j+1, opt.Label)
				if opt.Description != "" {
					line += " " + r.styles.Muted.Render("- "+opt.Description)
				}
				lines = append(lines, line)
			}
		}
		lines = append(lines, r.styles.Prompt.Render("Answer with a number or text, empty to cancel"))
		return strings.Join(lines, "\n")
	}

	line := "Allow " + r.styles.ToolName.Render(displayName(req.Info))
	if req.Summary != "" {
		line += " " + r.styles.ToolSummary.Render(req.Summary)
	}
	return line + "? " + r.styles.Prompt.Render("[y/n]")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
