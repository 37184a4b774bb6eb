package stream

import (
	"github.com/killallgit/relay/pkg/content"
)

// Kind identifies a stream event variant
type Kind string

const (
	KindTextDelta         Kind = "text_delta"
	KindThinkingDelta     Kind = "thinking_delta"
	KindTextSnapshot      Kind = "text_snapshot"
	KindThinkingSnapshot  Kind = "thinking_snapshot"
	KindToolUse           Kind = "tool_use"
	KindToolResult        Kind = "tool_result"
	KindUsage             Kind = "usage"
	KindPermissionRequest Kind = "permission_request"
	KindError             Kind = "error"
	KindPlanModeEnter     Kind = "plan_mode_enter"
	KindPlanModeExit      Kind = "plan_mode_exit"
	KindStreamStart       Kind = "stream_start"
	KindStreamEnd         Kind = "stream_end"
	KindMessageStop       Kind = "message_stop"
)

// Kinds lists every event variant
func Kinds() []Kind {
	return []Kind{
		KindTextDelta, KindThinkingDelta, KindTextSnapshot, KindThinkingSnapshot,
		KindToolUse, KindToolResult, KindUsage, KindPermissionRequest, KindError,
		KindPlanModeEnter, KindPlanModeExit, KindStreamStart, KindStreamEnd, KindMessageStop,
	}
}

// Event is one incremental signal from a provider. The set is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// TextDelta appends to the response text.
type TextDelta struct {
	Text string
}

// ThinkingDelta appends to the thinking text.
type ThinkingDelta struct {
	Text string
}

// TextSnapshot replaces the whole response text.
type TextSnapshot struct {
	Text string
}

// ThinkingSnapshot replaces the whole thinking text.
type ThinkingSnapshot struct {
	Text string
}

// ToolUse reports a tool invocation.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult reports the outcome of a tool invocation.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Usage reports token counts for the turn so far.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}

// PermissionRequest asks the user to approve a tool before it runs. The
// provider waits for exactly one permission response.
type PermissionRequest struct {
	ToolName  string
	ToolUseID string
	Input     map[string]any
}

// Error is a protocol error. It ends the turn.
type Error struct {
	Message string
	Code    string
}

// PlanModeEnter signals the assistant started planning.
type PlanModeEnter struct{}

// PlanModeExit signals the assistant finished planning. Input may carry the plan.
type PlanModeExit struct {
	Input map[string]any
}

// StreamStart opens a turn.
type StreamStart struct {
	SessionID string
	Model     string
}

// StreamEnd closes a turn.
type StreamEnd struct{}

// MessageStop marks the end of one assistant message inside a turn.
type MessageStop struct{}

func (TextDelta) Kind() Kind         { return KindTextDelta }
func (ThinkingDelta) Kind() Kind     { return KindThinkingDelta }
func (TextSnapshot) Kind() Kind      { return KindTextSnapshot }
func (ThinkingSnapshot) Kind() Kind  { return KindThinkingSnapshot }
func (ToolUse) Kind() Kind           { return KindToolUse }
func (ToolResult) Kind() Kind        { return KindToolResult }
func (Usage) Kind() Kind             { return KindUsage }
func (PermissionRequest) Kind() Kind { return KindPermissionRequest }
func (Error) Kind() Kind             { return KindError }
func (PlanModeEnter) Kind() Kind     { return KindPlanModeEnter }
func (PlanModeExit) Kind() Kind      { return KindPlanModeExit }
func (StreamStart) Kind() Kind       { return KindStreamStart }
func (StreamEnd) Kind() Kind         { return KindStreamEnd }
func (MessageStop) Kind() Kind       { return KindMessageStop }

func (TextDelta) isEvent()         {}
func (ThinkingDelta) isEvent()     {}
func (TextSnapshot) isEvent()      {}
func (ThinkingSnapshot) isEvent()  {}
func (ToolUse) isEvent()           {}
func (ToolResult) isEvent()        {}
func (Usage) isEvent()             {}
func (PermissionRequest) isEvent() {}
func (Error) isEvent()             {}
func (PlanModeEnter) isEvent()     {}
func (PlanModeExit) isEvent()      {}
func (StreamStart) isEvent()       {}
func (StreamEnd) isEvent()         {}
func (MessageStop) isEvent()       {}

var (
	_ Event = TextDelta{}
	_ Event = ThinkingDelta{}
	_ Event = TextSnapshot{}
	_ Event = ThinkingSnapshot{}
	_ Event = ToolUse{}
	_ Event = ToolResult{}
	_ Event = Usage{}
	_ Event = PermissionRequest{}
	_ Event = Error{}
	_ Event = PlanModeEnter{}
	_ Event = PlanModeExit{}
	_ Event = StreamStart{}
	_ Event = StreamEnd{}
	_ Event = MessageStop{}
)

// Samples returns one zero-valued instance of every event variant, in Kinds() order.
// Tests use it to check that consumers handle the whole union.
func Samples() []Event {
	return []Event{
		TextDelta{}, ThinkingDelta{}, TextSnapshot{}, ThinkingSnapshot{},
		ToolUse{}, ToolResult{}, Usage{}, PermissionRequest{}, Error{},
		PlanModeEnter{}, PlanModeExit{}, StreamStart{}, StreamEnd{}, MessageStop{},
	}
}

// Block converts a ToolUse event to its content block.
func (e ToolUse) Block() content.ToolUse {
	return content.ToolUse{ID: e.ID, Name: e.Name, Input: content.CloneInput(e.Input)}
}

// Block converts a ToolResult event to its content block.
func (e ToolResult) Block() content.ToolResult {
	return content.ToolResult{ToolUseID: e.ToolUseID, Content: e.Content, IsError: e.IsError}
}

// ToContent converts usage to the persisted form.
func (e Usage) ToContent() content.Usage {
	return content.Usage{
		InputTokens:         e.InputTokens,
		OutputTokens:        e.OutputTokens,
		CacheCreationTokens: e.CacheCreationTokens,
		CacheReadTokens:     e.CacheReadTokens,
	}
}

// IsTerminal reports whether the event ends a turn.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case StreamEnd, Error:
		return true
	}
	return false
}
