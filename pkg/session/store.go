package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/killallgit/relay/pkg/content"
)

// ErrNotFound is returned when a session id has no stored data
var ErrNotFound = errors.New("session not found")

// Store persists conversations. Save is called after every finished turn
// and is never waited on by the turn itself.
type Store interface {
	Load(ctx context.Context, id string) ([]content.Message, bool, error)
	Save(ctx context.Context, id string, messages []content.Message, title string, tokenCount int) error
	Title(ctx context.Context, id string) (string, error)
	LastUsage(ctx context.Context, id string) (content.Usage, bool, error)
}

// Lister is implemented by stores that can enumerate their sessions
type Lister interface {
	List(ctx context.Context) ([]Info, error)
}

// Info summarises one stored session
type Info struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Tokens    int       `json:"tokens"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastUsage returns the usage of the newest assistant message that has one
func LastUsage(messages []content.Message) (content.Usage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.IsAssistant() && m.Usage != nil {
			return *m.Usage, true
		}
	}
	return content.Usage{}, false
}

const maxTitleLen = 60

// TitleFor derives a title from the first user message: one line, truncated
func TitleFor(messages []content.Message) string {
	for _, m := range messages {
		if !m.IsUser() {
			continue
		}
		text := strings.TrimSpace(m.PlainText())
		if text == "" {
			continue
		}
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		runes := []rune(text)
		if len(runes) > maxTitleLen {
			text = strings.TrimSpace(string(runes[:maxTitleLen-1])) + "…"
		}
		return text
	}
	return "New conversation"
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// NopStore discards everything; used when persistence is disabled
type NopStore struct{}

func (NopStore) Load(context.Context, string) ([]content.Message, bool, error) {
	return nil, false, nil
}

func (NopStore) Save(context.Context, string, []content.Message, string, int) error {
	return nil
}

func (NopStore) Title(context.Context, string) (string, error) {
	return "", ErrNotFound
}

func (NopStore) LastUsage(context.Context, string) (content.Usage, bool, error) {
	return content.Usage{}, false, nil
}
