package tools

// Category is the coarse grouping used when rendering consecutive tool calls
type Category string

const (
	CategoryRead     Category = "read"
	CategoryEdit     Category = "edit"
	CategoryBash     Category = "bash"
	CategorySearch   Category = "search"
	CategoryOther    Category = "other"
	CategoryExternal Category = "external"
)

// Groupable reports whether consecutive tools of this category may be merged
func (c Category) Groupable() bool {
	switch c {
	case CategoryRead, CategoryEdit, CategoryBash, CategorySearch:
		return true
	}
	return false
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryRead, CategoryEdit, CategoryBash, CategorySearch, CategoryOther, CategoryExternal:
		return true
	}
	return false
}

// Kind tells trackers what a tool does beyond its display category
type Kind string

const (
	KindNone      Kind = ""
	KindTodo      Kind = "todo"
	KindSubagent  Kind = "subagent"
	KindPlanEnter Kind = "plan_enter"
	KindPlanExit  Kind = "plan_exit"
	KindQuestion  Kind = "question"
	KindEdit      Kind = "edit"
	KindMultiEdit Kind = "multi_edit"
	KindWrite     Kind = "write"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindNone, KindTodo, KindSubagent, KindPlanEnter, KindPlanExit,
		KindQuestion, KindEdit, KindMultiEdit, KindWrite:
		return true
	}
	return false
}

// ChangesFiles reports whether tools of this kind modify a file on disk
func (k Kind) ChangesFiles() bool {
	return k == KindEdit || k == KindMultiEdit || k == KindWrite
}

// Entry is one row of the classification table
type Entry struct {
	Category    Category `mapstructure:"category"`
	DisplayName string   `mapstructure:"display_name"`
	Kind        Kind     `mapstructure:"kind"`
}

// PrefixRule classifies every tool whose normalized name starts with Prefix
type PrefixRule struct {
	Prefix      string   `mapstructure:"prefix"`
	Category    Category `mapstructure:"category"`
	DisplayName string   `mapstructure:"display_name"`
}

// Info is the classification of one concrete tool name
type Info struct {
	Name        string
	Normalized  string
	Category    Category
	DisplayName string
	Kind        Kind
	External    bool
}

// TableError describes an invalid classification table entry
type TableError struct {
	Alias   string
	Message string
	Cause   error
}

func (e TableError) Error() string {
	msg := "tool table"
	if e.Alias != "" {
		msg += " alias " + e.Alias
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e TableError) Unwrap() error {
	return e.Cause
}
