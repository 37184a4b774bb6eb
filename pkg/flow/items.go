package flow

import (
	"fmt"
	"sort"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/tools"
)

// ItemKind discriminates render items
type ItemKind string

const (
	ItemText  ItemKind = "text"
	ItemTool  ItemKind = "tool"
	ItemGroup ItemKind = "group"
)

// Item is one entry of the render sequence: TextItem, ToolItem or GroupItem
type Item interface {
	Kind() ItemKind
	isItem()
}

// TextItem is a non-blank run of response text
type TextItem struct {
	Text string
}

// ToolItem is one tool call paired with its result, if one arrived
type ToolItem struct {
	Use     content.ToolUse
	Result  *content.ToolResult
	Info    tools.Info
	Summary string
}

// GroupItem is two or more consecutive tools of one category
type GroupItem struct {
	Category tools.Category
	Tools    []ToolItem
}

func (TextItem) Kind() ItemKind  { return ItemText }
func (ToolItem) Kind() ItemKind  { return ItemTool }
func (GroupItem) Kind() ItemKind { return ItemGroup }

func (TextItem) isItem()  {}
func (ToolItem) isItem()  {}
func (GroupItem) isItem() {}

var (
	_ Item = TextItem{}
	_ Item = ToolItem{}
	_ Item = GroupItem{}
)

// Pending reports whether the tool is still waiting for its result
func (t ToolItem) Pending() bool {
	return t.Result == nil
}

// Failed reports whether the tool's result was an error
func (t ToolItem) Failed() bool {
	return t.Result != nil && t.Result.IsError
}

// Title renders the group header, e.g. "Read 3 files"
func (g GroupItem) Title() string {
	n := len(g.Tools)
	switch g.Category {
	case tools.CategoryRead:
		return fmt.Sprintf("Read %d files", n)
	case tools.CategoryEdit:
		return fmt.Sprintf("Edited %d files", n)
	case tools.CategoryBash:
		return fmt.Sprintf("Ran %d commands", n)
	case tools.CategorySearch:
		return fmt.Sprintf("Searched %d times", n)
	}
	return fmt.Sprintf("%d tool calls", n)
}

// Failures counts tools in the group whose result was an error
func (g GroupItem) Failures() int {
	n := 0
	for _, t := range g.Tools {
		if t.Failed() {
			n++
		}
	}
	return n
}

func sortResults(results []content.ToolResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].ToolUseID < results[j].ToolUseID
	})
}
