package content

import (
	"encoding/json"
	"fmt"
	"time"
)

// blockEnvelope is the persisted form of a ContentBlock: a type tag plus the
// union of every variant's fields.
type blockEnvelope struct {
	Type      BlockKind      `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Source    string         `json:"source,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	Code      string         `json:"code,omitempty"`
	Language  string         `json:"language,omitempty"`
}

type messageEnvelope struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   []blockEnvelope `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Stopped   bool            `json:"stopped,omitempty"`
	Failed    bool            `json:"failed,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
}

func encodeBlock(b ContentBlock) blockEnvelope {
	env := blockEnvelope{Type: b.Kind()}
	switch v := b.(type) {
	case Text:
		env.Text = v.Text
	case Thinking:
		env.Text = v.Text
	case ToolUse:
		env.ID, env.Name, env.Input = v.ID, v.Name, v.Input
	case ToolResult:
		env.ToolUseID, env.Content, env.IsError = v.ToolUseID, v.Content, v.IsError
	case Image:
		env.Source, env.MediaType = v.Source, v.MediaType
	case Code:
		env.Code, env.Language = v.Code, v.Language
	}
	return env
}

func decodeBlock(env blockEnvelope) (ContentBlock, error) {
	switch env.Type {
	case KindText:
		return Text{Text: env.Text}, nil
	case KindThinking:
		return Thinking{Text: env.Text}, nil
	case KindToolUse:
		return ToolUse{ID: env.ID, Name: env.Name, Input: env.Input}, nil
	case KindToolResult:
		return ToolResult{ToolUseID: env.ToolUseID, Content: env.Content, IsError: env.IsError}, nil
	case KindImage:
		return Image{Source: env.Source, MediaType: env.MediaType}, nil
	case KindCode:
		return Code{Code: env.Code, Language: env.Language}, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", env.Type)
	}
}

// MarshalJSON encodes the message with tagged content blocks
func (m Message) MarshalJSON() ([]byte, error) {
	env := messageEnvelope{
		ID:        m.ID,
		Role:      m.Role,
		Content:   make([]blockEnvelope, 0, len(m.Content)),
		Timestamp: m.Timestamp,
		Stopped:   m.Stopped,
		Failed:    m.Failed,
		Usage:     m.Usage,
	}
	for _, b := range m.Content {
		env.Content = append(env.Content, encodeBlock(b))
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes a message written by MarshalJSON
func (m *Message) UnmarshalJSON(data []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	blocks := make([]ContentBlock, 0, len(env.Content))
	for i, be := range env.Content {
		b, err := decodeBlock(be)
		if err != nil {
			return fmt.Errorf("message %s block %d: %w", env.ID, i, err)
		}
		blocks = append(blocks, b)
	}

	*m = Message{
		ID:        env.ID,
		Role:      env.Role,
		Content:   blocks,
		Timestamp: env.Timestamp,
		Stopped:   env.Stopped,
		Failed:    env.Failed,
		Usage:     env.Usage,
	}
	return nil
}
