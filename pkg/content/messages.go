package content

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Usage is the token accounting reported for one assistant turn
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

// Total returns every token counted in the usage
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// Add returns the element-wise sum of u and other
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:         u.InputTokens + other.InputTokens,
		OutputTokens:        u.OutputTokens + other.OutputTokens,
		CacheCreationTokens: u.CacheCreationTokens + other.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens + other.CacheReadTokens,
	}
}

// Message is a value type. Helpers never modify the receiver's content slice;
// they return a new Message instead. Failed marks a turn ended by a protocol
// error, whose text is the last block.
type Message struct {
	ID        string
	Role      Role
	Content   []ContentBlock
	Timestamp time.Time
	Stopped   bool
	Failed    bool
	Usage     *Usage
}

// NewUserMessage creates a user message with text and optional attachments
func NewUserMessage(text string, images ...Image) Message {
	blocks := make([]ContentBlock, 0, 1+len(images))
	if text != "" {
		blocks = append(blocks, Text{Text: text})
	}
	for _, img := range images {
		blocks = append(blocks, img)
	}
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   blocks,
		Timestamp: time.Now(),
	}
}

// NewAssistantPlaceholder creates the empty assistant message shown while a turn streams
func NewAssistantPlaceholder() Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates an assistant message with the given blocks
func NewAssistantMessage(blocks ...ContentBlock) Message {
	m := NewAssistantPlaceholder()
	m.Content = cloneBlocks(blocks)
	return m
}

// WithContent returns a copy of m whose content is replaced by blocks
func (m Message) WithContent(blocks []ContentBlock) Message {
	m.Content = cloneBlocks(blocks)
	return m
}

// WithStopped returns a copy of m tagged as stopped by cancellation
func (m Message) WithStopped() Message {
	m.Stopped = true
	m.Content = cloneBlocks(m.Content)
	return m
}

// WithError returns a copy of m ending in an inline error block
func (m Message) WithError(text string) Message {
	m.Content = append(cloneBlocks(m.Content), Text{Text: text})
	m.Failed = true
	return m
}

// ErrorText returns the inline error of a failed message
func (m Message) ErrorText() string {
	if !m.Failed || len(m.Content) == 0 {
		return ""
	}
	if t, ok := m.Content[len(m.Content)-1].(Text); ok {
		return t.Text
	}
	return ""
}

// WithUsage returns a copy of m carrying usage
func (m Message) WithUsage(u Usage) Message {
	m.Content = cloneBlocks(m.Content)
	m.Usage = &u
	return m
}

// IsUser returns true if the message is from the user
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if the message is from the assistant
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// IsEmpty reports whether the message has no blocks with visible content
func (m Message) IsEmpty() bool {
	for _, b := range m.Content {
		switch v := b.(type) {
		case Text:
			if strings.TrimSpace(v.Text) != "" {
				return false
			}
		case Thinking:
			if strings.TrimSpace(v.Text) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// PlainText concatenates the message's Text blocks
func (m Message) PlainText() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if t, ok := b.(Text); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the ToolUse blocks in order
func (m Message) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, b := range m.Content {
		if tu, ok := b.(ToolUse); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// OrphanResults returns ToolResult blocks that appear before, or without,
// their ToolUse in the same message.
func (m Message) OrphanResults() []ToolResult {
	seen := make(map[string]bool)
	var orphans []ToolResult
	for _, b := range m.Content {
		switch v := b.(type) {
		case ToolUse:
			seen[v.ID] = true
		case ToolResult:
			if !seen[v.ToolUseID] {
				orphans = append(orphans, v)
			}
		}
	}
	return orphans
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	copy(out, blocks)
	return out
}

// ReplaceLast returns a copy of msgs with the final message replaced by m.
// An empty list gets m appended.
func ReplaceLast(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	if len(out) == 0 {
		return append(out, m)
	}
	out[len(out)-1] = m
	return out
}

// Append returns a copy of msgs with m appended
func Append(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

// DropLast returns a copy of msgs without the final message
func DropLast(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs)-1)
	copy(out, msgs[:len(msgs)-1])
	return out
}
