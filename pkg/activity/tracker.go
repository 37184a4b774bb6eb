package activity

import (
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/tools"
)

// TodoStatus is the progress state of a todo item
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one entry of the assistant's task list
type Todo struct {
	Content    string
	Status     TodoStatus
	ActiveForm string
}

// FileChange accumulates the line changes made to one path during a conversation
type FileChange struct {
	Path      string
	Additions int
	Deletions int
	Edits     int
	// Patch is the unified patch text of the most recent edit
	Patch string
}

// SubagentStatus tracks a delegated agent's lifecycle
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentError     SubagentStatus = "error"
)

// Subagent is a delegated task keyed by the tool use that started it
type Subagent struct {
	ID          string
	Type        string
	Description string
	Status      SubagentStatus
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Snapshot is an immutable copy of all tracker projections
type Snapshot struct {
	Todos     []Todo
	Files     []FileChange
	Subagents []Subagent
}

// Tracker projects tool calls into todo, file-change and sub-agent views.
// Entries are merged, never diffed away: only Clear or the next todo
// snapshot removes anything.
type Tracker struct {
	table *tools.Table
	diff  *LineDiffer
	log   *logger.Logger

	todos      []Todo
	files      map[string]*FileChange
	fileOrder  []string
	agents     map[string]*Subagent
	agentOrder []string

	now func() time.Time
	mu  sync.RWMutex
}

// NewTracker creates a tracker that classifies tool names with table
func NewTracker(table *tools.Table) *Tracker {
	if table == nil {
		table = tools.DefaultTable()
	}
	return &Tracker{
		table:  table,
		diff:   NewLineDiffer(),
		log:    logger.WithComponent("activity"),
		files:  make(map[string]*FileChange),
		agents: make(map[string]*Subagent),
		now:    time.Now,
	}
}

// OnToolUse records a tool invocation
func (t *Tracker) OnToolUse(id, name string, input map[string]any) {
	info := t.table.Classify(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case info.Kind == tools.KindTodo:
		t.replaceTodos(input)
	case info.Kind == tools.KindSubagent:
		t.startSubagent(id, input)
	case info.Kind.ChangesFiles():
		t.recordEdit(info.Kind, input)
	}
}

// OnToolResult completes a sub-agent. Results for unknown ids are ignored.
func (t *Tracker) OnToolResult(id string, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agent, ok := t.agents[id]
	if !ok || agent.Status != SubagentRunning {
		return
	}
	agent.Status = SubagentCompleted
	if isError {
		agent.Status = SubagentError
	}
	agent.FinishedAt = t.now()
	t.log.Debug("Subagent %s finished: %s", id, agent.Status)
}

func (t *Tracker) replaceTodos(input map[string]any) {
	raw, ok := input["todos"].([]any)
	if !ok {
		// todo reads carry no list and leave the current one alone
		return
	}

	todos := make([]Todo, 0, len(raw))
	for _, item := range raw {
		m := tools.MapValue(item)
		if m == nil {
			continue
		}
		todo := Todo{
			Content:    tools.StringField(m, "content", "title", "text"),
			Status:     TodoStatus(tools.StringField(m, "status")),
			ActiveForm: tools.StringField(m, "activeForm", "active_form"),
		}
		if todo.Content == "" {
			continue
		}
		if todo.Status == "" {
			todo.Status = TodoPending
		}
		todos = append(todos, todo)
	}
	t.todos = todos
}

func (t *Tracker) startSubagent(id string, input map[string]any) {
	if id == "" {
		return
	}
	if _, exists := t.agents[id]; !exists {
		t.agentOrder = append(t.agentOrder, id)
	}
	t.agents[id] = &Subagent{
		ID:          id,
		Type:        tools.StringField(input, "subagent_type", "agent_type", "type"),
		Description: tools.StringField(input, "description", "prompt"),
		Status:      SubagentRunning,
		StartedAt:   t.now(),
	}
}

func (t *Tracker) recordEdit(kind tools.Kind, input map[string]any) {
	path := tools.FilePath(input)
	if path == "" {
		t.log.Debug("Ignoring %s without a file path", kind)
		return
	}

	var stats DiffStats
	switch kind {
	case tools.KindWrite:
		stats = t.diff.Diff("", tools.StringField(input, "content", "file_text", "text"))
	case tools.KindMultiEdit:
		for _, e := range tools.ListField(input, "edits") {
			m := tools.MapValue(e)
			stats = stats.Merge(t.diff.Diff(tools.StringField(m, "old_string"), tools.StringField(m, "new_string")))
		}
	default:
		stats = t.diff.Diff(tools.StringField(input, "old_string", "old_str"), tools.StringField(input, "new_string", "new_str"))
	}

	change, ok := t.files[path]
	if !ok {
		change = &FileChange{Path: path}
		t.files[path] = change
		t.fileOrder = append(t.fileOrder, path)
	}
	change.Additions += stats.Additions
	change.Deletions += stats.Deletions
	change.Edits++
	if stats.Patch != "" {
		change.Patch = stats.Patch
	}
}

// Todos returns a copy of the current todo list
func (t *Tracker) Todos() []Todo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Todo, len(t.todos))
	copy(out, t.todos)
	return out
}

// FileChanges returns per-path change summaries in first-touched order
func (t *Tracker) FileChanges() []FileChange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]FileChange, 0, len(t.fileOrder))
	for _, path := range t.fileOrder {
		out = append(out, *t.files[path])
	}
	return out
}

// FileChange returns the summary for one path
func (t *Tracker) FileChange(path string) (FileChange, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	change, ok := t.files[path]
	if !ok {
		return FileChange{}, false
	}
	return *change, true
}

// Subagents returns sub-agents in start order
func (t *Tracker) Subagents() []Subagent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Subagent, 0, len(t.agentOrder))
	for _, id := range t.agentOrder {
		out = append(out, *t.agents[id])
	}
	return out
}

// Snapshot copies all projections at once
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Todos:     t.Todos(),
		Files:     t.FileChanges(),
		Subagents: t.Subagents(),
	}
}

// Totals sums additions and deletions over every tracked file
func (s Snapshot) Totals() (additions, deletions int) {
	for _, f := range s.Files {
		additions += f.Additions
		deletions += f.Deletions
	}
	return additions, deletions
}

// Running counts sub-agents still in progress
func (s Snapshot) Running() int {
	n := 0
	for _, a := range s.Subagents {
		if a.Status == SubagentRunning {
			n++
		}
	}
	return n
}

// Clear drops every projection
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.todos = nil
	t.files = make(map[string]*FileChange)
	t.fileOrder = nil
	t.agents = make(map[string]*Subagent)
	t.agentOrder = nil
}
