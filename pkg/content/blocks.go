package content

// BlockKind identifies a ContentBlock variant
type BlockKind string

const (
	KindText       BlockKind = "text"
	KindThinking   BlockKind = "thinking"
	KindToolUse    BlockKind = "tool_use"
	KindToolResult BlockKind = "tool_result"
	KindImage      BlockKind = "image"
	KindCode       BlockKind = "code"
)

// ContentBlock is the closed set of things a message can contain.
// Only types in this package implement it.
type ContentBlock interface {
	Kind() BlockKind
	isContentBlock()
}

// Text is plain assistant or user text.
type Text struct {
	Text string `json:"text"`
}

// Thinking is the assistant's reasoning text.
type Thinking struct {
	Text string `json:"text"`
}

// ToolUse is a tool invocation requested by the assistant.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult carries the output of a ToolUse with the matching ID.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Image references an attached image.
type Image struct {
	Source    string `json:"source"`
	MediaType string `json:"media_type"`
}

// Code is a fenced code snippet.
type Code struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

func (Text) Kind() BlockKind       { return KindText }
func (Thinking) Kind() BlockKind   { return KindThinking }
func (ToolUse) Kind() BlockKind    { return KindToolUse }
func (ToolResult) Kind() BlockKind { return KindToolResult }
func (Image) Kind() BlockKind      { return KindImage }
func (Code) Kind() BlockKind       { return KindCode }

func (Text) isContentBlock()       {}
func (Thinking) isContentBlock()   {}
func (ToolUse) isContentBlock()    {}
func (ToolResult) isContentBlock() {}
func (Image) isContentBlock()      {}
func (Code) isContentBlock()       {}

// Compile-time interface checks.
var (
	_ ContentBlock = Text{}
	_ ContentBlock = Thinking{}
	_ ContentBlock = ToolUse{}
	_ ContentBlock = ToolResult{}
	_ ContentBlock = Image{}
	_ ContentBlock = Code{}
)

// BlockKinds lists every ContentBlock variant.
func BlockKinds() []BlockKind {
	return []BlockKind{KindText, KindThinking, KindToolUse, KindToolResult, KindImage, KindCode}
}

// CloneInput returns a shallow copy of a tool input map. Nested values are shared.
func CloneInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
