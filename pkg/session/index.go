package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/logger"
)

const indexCollection = "sessions"

// HashEmbedding returns a local embedding function based on feature
// hashing of lower-cased word tokens. It needs no model server.
func HashEmbedding(dim int) chromem.EmbeddingFunc {
	if dim <= 0 {
		dim = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			sum := h.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%dim] += sign
		}
		normalize(vec)
		return vec, nil
	}
}

// LangchainEmbedding adapts a langchaingo embedder, e.g. one backed by ollama
func LangchainEmbedding(e embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		normalize(vec)
		return vec, nil
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		// chromem rejects zero vectors; give empty text a fixed direction
		vec[0] = 1
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// Hit is one search result
type Hit struct {
	ID         string
	Title      string
	Similarity float32
}

// Index is a chromem-go collection of session transcripts
type Index struct {
	collection *chromem.Collection
	mu         sync.RWMutex
}

// NewIndex creates an index. An empty dir keeps it in memory; otherwise it
// is persisted under dir.
func NewIndex(dir string, embed chromem.EmbeddingFunc) (*Index, error) {
	var db *chromem.DB
	var err error
	if dir != "" {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open session index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	if embed == nil {
		embed = HashEmbedding(0)
	}
	collection, err := db.GetOrCreateCollection(indexCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create session collection: %w", err)
	}
	return &Index{collection: collection}, nil
}

// Transcript flattens messages into searchable text
func Transcript(messages []content.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		text := m.PlainText()
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(text)
	}
	return sb.String()
}

// Put replaces the indexed transcript of a session
func (i *Index) Put(ctx context.Context, id, title string, messages []content.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	doc := chromem.Document{
		ID:       id,
		Metadata: map[string]string{"title": title},
		Content:  title + "\n" + Transcript(messages),
	}
	if err := i.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index session %s: %w", id, err)
	}
	return nil
}

// Search returns up to n sessions ranked by similarity to query
func (i *Index) Search(ctx context.Context, query string, n int) ([]Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	count := i.collection.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	results, err := i.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Title: r.Metadata["title"], Similarity: r.Similarity})
	}
	return hits, nil
}

// Count returns the number of indexed sessions
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count()
}

// IndexedStore decorates a store so every save refreshes the index. Index
// failures are logged; the save itself still succeeds.
type IndexedStore struct {
	Store
	index *Index
	log   *logger.Logger
}

// NewIndexedStore wraps store with index
func NewIndexedStore(store Store, index *Index) *IndexedStore {
	return &IndexedStore{Store: store, index: index, log: logger.WithComponent("session_index")}
}

// Save stores the session, then indexes it
func (s *IndexedStore) Save(ctx context.Context, id string, messages []content.Message, title string, tokenCount int) error {
	if err := s.Store.Save(ctx, id, messages, title, tokenCount); err != nil {
		return err
	}
	if title == "" {
		title = TitleFor(messages)
	}
	if err := s.index.Put(ctx, id, title, messages); err != nil {
		s.log.Warn("Failed to index session %s: %v", id, err)
	}
	return nil
}

// Search delegates to the index
func (s *IndexedStore) Search(ctx context.Context, query string, n int) ([]Hit, error) {
	return s.index.Search(ctx, query, n)
}

// List delegates to the wrapped store when it can enumerate sessions
func (s *IndexedStore) List(ctx context.Context) ([]Info, error) {
	if l, ok := s.Store.(Lister); ok {
		return l.List(ctx)
	}
	return nil, fmt.Errorf("session store cannot list sessions")
}
