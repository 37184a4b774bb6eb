package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/session"
)

// MemoryStore is an in-memory session store. Gate, when set, blocks every
// Save until it is closed, which lets tests prove saves never hold up a turn.
// Delays[n] slows down the nth Save call, counting from zero.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	calls    int
	saves    int
	Gate     chan struct{}
	Delays   []time.Duration
	SaveErr  error
	Saved    chan string
}

type memorySession struct {
	messages []content.Message
	title    string
	tokens   int
	updated  time.Time
}

var (
	_ session.Store  = (*MemoryStore)(nil)
	_ session.Lister = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memorySession),
		Saved:    make(chan string, 64),
	}
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]content.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return append([]content.Message(nil), sess.messages...), true, nil
}

func (s *MemoryStore) Save(ctx context.Context, id string, messages []content.Message, title string, tokenCount int) error {
	s.mu.Lock()
	var delay time.Duration
	if s.calls < len(s.Delays) {
		delay = s.Delays[s.calls]
	}
	s.calls++
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.saves++
	if s.SaveErr != nil {
		err := s.SaveErr
		s.mu.Unlock()
		return err
	}
	if title == "" {
		title = session.TitleFor(messages)
	}
	s.sessions[id] = memorySession{
		messages: append([]content.Message(nil), messages...),
		title:    title,
		tokens:   tokenCount,
		updated:  time.Now(),
	}
	s.mu.Unlock()

	select {
	case s.Saved <- id:
	default:
	}
	return nil
}

func (s *MemoryStore) Title(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", session.ErrNotFound
	}
	return sess.title, nil
}

func (s *MemoryStore) LastUsage(_ context.Context, id string) (content.Usage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := session.LastUsage(s.sessions[id].messages)
	return u, ok, nil
}

func (s *MemoryStore) List(context.Context) ([]session.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.Info, 0, len(s.sessions))
	for id, sess := range s.sessions {
		out = append(out, session.Info{
			ID:        id,
			Title:     sess.title,
			Tokens:    sess.tokens,
			Messages:  len(sess.messages),
			UpdatedAt: sess.updated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Saves returns how many times Save ran
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Tokens returns the token count stored for id
func (s *MemoryStore) Tokens(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id].tokens
}

// Put seeds a session directly
func (s *MemoryStore) Put(id string, messages []content.Message, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memorySession{messages: messages, title: title, updated: time.Now()}
}
