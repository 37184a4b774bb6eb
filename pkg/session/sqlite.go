package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory/sqlite3"

	"github.com/killallgit/relay/pkg/content"
)

const (
	sqliteTable   = "relay_messages"
	catalogKey    = "relay#catalog"
	metaKeySuffix = "#meta"
)

// SQLiteStore keeps sessions in a langchaingo chat history table. Each
// message is one history row holding the JSON-encoded message; title and
// token count live in a sibling "<id>#meta" session, and a catalog session
// lists every id that was ever saved.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

type sqliteMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Tokens    int       `json:"tokens"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSQLiteStore opens (or creates) the database file at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) history(ctx context.Context, key string) *sqlite3.SqliteChatMessageHistory {
	return sqlite3.NewSqliteChatMessageHistory(
		sqlite3.WithDB(s.db),
		sqlite3.WithContext(ctx),
		sqlite3.WithTableName(sqliteTable),
		sqlite3.WithSession(key),
	)
}

func chatMessage(m content.Message) (llms.ChatMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if m.IsUser() {
		return llms.HumanChatMessage{Content: string(data)}, nil
	}
	return llms.AIChatMessage{Content: string(data)}, nil
}

// Load returns the stored messages, or false when the session does not exist
func (s *SQLiteStore) Load(ctx context.Context, id string) ([]content.Message, bool, error) {
	if err := validateID(id); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.history(ctx, id).Messages(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	messages := make([]content.Message, 0, len(rows))
	for i, row := range rows {
		var m content.Message
		if err := json.Unmarshal([]byte(row.GetContent()), &m); err != nil {
			return nil, false, fmt.Errorf("session %s row %d: %w", id, i, err)
		}
		messages = append(messages, m)
	}
	return messages, true, nil
}

// Save replaces the stored messages and metadata of a session
func (s *SQLiteStore) Save(ctx context.Context, id string, messages []content.Message, title string, tokenCount int) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history(ctx, id)
	if err := h.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", id, err)
	}
	for _, m := range messages {
		cm, err := chatMessage(m)
		if err != nil {
			return fmt.Errorf("failed to encode message %s: %w", m.ID, err)
		}
		if err := h.AddMessage(ctx, cm); err != nil {
			return fmt.Errorf("failed to save session %s: %w", id, err)
		}
	}

	if title == "" {
		title = TitleFor(messages)
	}
	meta := sqliteMeta{ID: id, Title: title, Tokens: tokenCount, Messages: len(messages), UpdatedAt: s.now()}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	mh := s.history(ctx, id+metaKeySuffix)
	if err := mh.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear metadata for %s: %w", id, err)
	}
	if err := mh.AddMessage(ctx, llms.SystemChatMessage{Content: string(data)}); err != nil {
		return fmt.Errorf("failed to save metadata for %s: %w", id, err)
	}

	if err := s.catalog(ctx, id); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) catalog(ctx context.Context, id string) error {
	c := s.history(ctx, catalogKey)
	ids, err := c.Messages(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session catalog: %w", err)
	}
	for _, row := range ids {
		if row.GetContent() == id {
			return nil
		}
	}
	if err := c.AddMessage(ctx, llms.SystemChatMessage{Content: id}); err != nil {
		return fmt.Errorf("failed to update session catalog: %w", err)
	}
	return nil
}

func (s *SQLiteStore) meta(ctx context.Context, id string) (sqliteMeta, error) {
	rows, err := s.history(ctx, id+metaKeySuffix).Messages(ctx)
	if err != nil {
		return sqliteMeta{}, fmt.Errorf("failed to read metadata for %s: %w", id, err)
	}
	if len(rows) == 0 {
		return sqliteMeta{}, ErrNotFound
	}

	var meta sqliteMeta
	if err := json.Unmarshal([]byte(rows[len(rows)-1].GetContent()), &meta); err != nil {
		return sqliteMeta{}, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}
	return meta, nil
}

// Title returns the stored title
func (s *SQLiteStore) Title(ctx context.Context, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.meta(ctx, id)
	if err != nil {
		return "", err
	}
	return meta.Title, nil
}

// LastUsage returns the usage of the newest assistant message carrying one
func (s *SQLiteStore) LastUsage(ctx context.Context, id string) (content.Usage, bool, error) {
	messages, ok, err := s.Load(ctx, id)
	if err != nil || !ok {
		return content.Usage{}, false, err
	}
	u, found := LastUsage(messages)
	return u, found, nil
}

// List returns every catalogued session, most recently updated first
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.history(ctx, catalogKey).Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session catalog: %w", err)
	}

	out := make([]Info, 0, len(ids))
	for _, row := range ids {
		meta, err := s.meta(ctx, row.GetContent())
		if err != nil {
			continue
		}
		out = append(out, Info(meta))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
