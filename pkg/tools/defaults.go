package tools

// MCPPrefix marks tools served by external MCP servers
const MCPPrefix = "mcp__"

type defaultAlias struct {
	names []string
	entry Entry
}

var defaultAliases = []defaultAlias{
	{[]string{"read", "read_file", "readfile", "view", "cat", "open_file"},
		Entry{Category: CategoryRead, DisplayName: "Read"}},
	{[]string{"notebookread", "read_notebook"},
		Entry{Category: CategoryRead, DisplayName: "Read Notebook"}},
	{[]string{"ls", "list", "list_dir", "list_directory", "list_files"},
		Entry{Category: CategoryRead, DisplayName: "List"}},

	{[]string{"edit", "edit_file", "str_replace", "str_replace_editor", "str_replace_based_edit_tool", "replace"},
		Entry{Category: CategoryEdit, DisplayName: "Edit", Kind: KindEdit}},
	{[]string{"multiedit", "multi_edit"},
		Entry{Category: CategoryEdit, DisplayName: "MultiEdit", Kind: KindMultiEdit}},
	{[]string{"write", "write_file", "writefile", "create", "create_file"},
		Entry{Category: CategoryEdit, DisplayName: "Write", Kind: KindWrite}},
	{[]string{"notebookedit", "edit_notebook"},
		Entry{Category: CategoryEdit, DisplayName: "Edit Notebook"}},

	{[]string{"bash", "shell", "sh", "terminal", "run_command", "execute_command", "run_terminal_cmd"},
		Entry{Category: CategoryBash, DisplayName: "Bash"}},
	{[]string{"bashoutput", "bash_output"},
		Entry{Category: CategoryBash, DisplayName: "Bash Output"}},
	{[]string{"killshell", "killbash", "kill_shell"},
		Entry{Category: CategoryBash, DisplayName: "Kill Shell"}},

	{[]string{"grep", "search", "search_files", "ripgrep", "rg", "codebase_search"},
		Entry{Category: CategorySearch, DisplayName: "Search"}},
	{[]string{"glob", "find", "find_files", "file_search"},
		Entry{Category: CategorySearch, DisplayName: "Find Files"}},
	{[]string{"websearch", "web_search"},
		Entry{Category: CategorySearch, DisplayName: "Web Search"}},

	{[]string{"webfetch", "web_fetch", "fetch"},
		Entry{Category: CategoryOther, DisplayName: "Fetch"}},
	{[]string{"todowrite", "todo_write", "todoread", "todo_read"},
		Entry{Category: CategoryOther, DisplayName: "Todo", Kind: KindTodo}},
	{[]string{"task", "agent", "dispatch_agent", "subagent"},
		Entry{Category: CategoryOther, DisplayName: "Agent", Kind: KindSubagent}},
	{[]string{"enterplanmode", "enter_plan_mode"},
		Entry{Category: CategoryOther, DisplayName: "Plan Mode", Kind: KindPlanEnter}},
	{[]string{"exitplanmode", "exit_plan_mode"},
		Entry{Category: CategoryOther, DisplayName: "Plan Ready", Kind: KindPlanExit}},
	{[]string{"askuserquestion", "ask_user_question", "ask_user", "askuser"},
		Entry{Category: CategoryOther, DisplayName: "Question", Kind: KindQuestion}},
	{[]string{"skill", "slashcommand"},
		Entry{Category: CategoryOther, DisplayName: "Skill"}},
}

// DefaultTable returns the built-in classification table
func DefaultTable() *Table {
	t := NewTable()
	for _, group := range defaultAliases {
		for _, name := range group.names {
			// Built-in aliases are unique; a duplicate is a programming error.
			if err := t.Register(name, group.entry); err != nil {
				panic(err)
			}
		}
	}
	if err := t.AddPrefix(PrefixRule{Prefix: MCPPrefix, Category: CategoryExternal, DisplayName: "MCP"}); err != nil {
		panic(err)
	}
	return t
}
