package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/logger"
)

// record is the on-disk layout of one session
type record struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Tokens    int               `json:"tokens"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []content.Message `json:"messages"`
}

// FileStore keeps one JSON document per session in a directory. Saves take
// a lock file next to the document so two processes never interleave writes.
type FileStore struct {
	dir         string
	mu          sync.RWMutex
	now         func() time.Time
	lockTimeout time.Duration
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now, lockTimeout: 5 * time.Second}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) read(id string) (*record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &rec, nil
}

// Load returns the stored messages, or false when the session does not exist
func (s *FileStore) Load(_ context.Context, id string) ([]content.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.read(id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Messages, true, nil
}

// Save replaces the session document. The write goes through a temp file
// so a crash never leaves a half-written session.
func (s *FileStore) Save(ctx context.Context, id string, messages []content.Message, title string, tokenCount int) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock := newFileLock(s.path(id))
	if err := lock.Lock(ctx, s.lockTimeout); err != nil {
		return fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to unlock session %s: %v", id, err)
		}
	}()

	if title == "" {
		title = TitleFor(messages)
	}
	rec := record{
		ID:        id,
		Title:     title,
		Tokens:    tokenCount,
		UpdatedAt: s.now(),
		Messages:  messages,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return fmt.Errorf("failed to store session %s: %w", id, err)
	}
	return nil
}

// Title returns the stored title
func (s *FileStore) Title(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.read(id)
	if err != nil {
		return "", err
	}
	return rec.Title, nil
}

// LastUsage returns the usage of the newest assistant message carrying one
func (s *FileStore) LastUsage(_ context.Context, id string) (content.Usage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.read(id)
	if errors.Is(err, ErrNotFound) {
		return content.Usage{}, false, nil
	}
	if err != nil {
		return content.Usage{}, false, err
	}
	u, ok := LastUsage(rec.Messages)
	return u, ok, nil
}

// List returns every session, most recently updated first
func (s *FileStore) List(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, Info{
			ID:        rec.ID,
			Title:     rec.Title,
			Tokens:    rec.Tokens,
			Messages:  len(rec.Messages),
			UpdatedAt: rec.UpdatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
