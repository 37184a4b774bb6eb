package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/provider/bridge"
	"github.com/killallgit/relay/pkg/provider/langchain"
	"github.com/killallgit/relay/pkg/session"
	"github.com/killallgit/relay/pkg/testutil"
	"github.com/killallgit/relay/pkg/tools"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Provider:       "ollama",
		MaxTokens:      1024,
		PermissionMode: "default",
		Streaming:      true,
		Ollama:         config.OllamaConfig{URL: "http://localhost:11434", Model: "qwen3"},
		Session: config.SessionConfig{
			Store:     "file",
			Directory: filepath.Join(dir, "sessions"),
			Database:  filepath.Join(dir, "sessions.db"),
			IndexDir:  filepath.Join(dir, "index"),
		},
		Orchestrator: config.OrchestratorConfig{PlanPolicy: "longest", CompactPrompt: "/compact"},
	}
}

func TestNewProvider(t *testing.T) {
	cfg := testConfig(t)
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &langchain.Provider{}, p)

	cfg.Provider = "bridge"
	_, err = NewProvider(cfg)
	assert.ErrorIs(t, err, bridge.ErrNoCommand)

	cfg.Bridge = config.BridgeConfig{Command: "assistant-bridge", Args: []string{"--stdio"}}
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &bridge.Provider{}, p)
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	msgs := []content.Message{
		content.NewUserMessage("rename the config loader"),
		content.NewAssistantMessage(content.Text{Text: "Renamed."}),
	}

	tests := []struct {
		store  string
		index  bool
		closer bool
		list   bool
	}{
		{store: "none"},
		{store: "file", list: true},
		{store: "sqlite", closer: true, list: true},
		{store: "file", index: true, list: true},
	}

	for _, tt := range tests {
		t.Run(tt.store, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Session.Store = tt.store
			cfg.Session.Index = tt.index

			store, closer, err := NewStore(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.closer, closer != nil)
			if closer != nil {
				defer closer.Close()
			}

			require.NoError(t, store.Save(ctx, "s1", msgs, "", 10))
			_, isLister := store.(session.Lister)
			assert.Equal(t, tt.list, isLister)

			if tt.index {
				indexed, ok := store.(*session.IndexedStore)
				require.True(t, ok)
				hits, err := indexed.Search(ctx, "config loader", 1)
				require.NoError(t, err)
				require.Len(t, hits, 1)
				assert.Equal(t, "s1", hits[0].ID)
			}
		})
	}
}

func TestEmbeddingFunc(t *testing.T) {
	cfg := testConfig(t)
	embed, err := embeddingFunc(cfg)
	require.NoError(t, err)
	assert.Nil(t, embed)

	cfg.Session.Embedder = "ollama"
	cfg.Session.EmbedModel = "nomic-embed-text"
	embed, err = embeddingFunc(cfg)
	require.NoError(t, err)
	assert.NotNil(t, embed)
}

func TestNewTable(t *testing.T) {
	cfg := testConfig(t)
	table, err := NewTable(cfg)
	require.NoError(t, err)
	assert.Equal(t, tools.CategoryRead, table.Classify("Read").Category)

	cfg.Tools.TableFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewTable(cfg)
	assert.Error(t, err)
}

func TestNewAppWithOverrides(t *testing.T) {
	store := testutil.NewMemoryStore()
	app, err := NewApp(testConfig(t), AppOptions{
		Provider: testutil.NewFakeProvider(reply("hi")),
		Store:    store,
		Plain:    true,
	})
	require.NoError(t, err)

	assert.Same(t, store, app.Store)
	assert.NotNil(t, app.Orchestrator)
	assert.NotNil(t, app.Renderer)
	require.NoError(t, app.Close())
	require.NoError(t, app.Close())
}

func TestNewAppRejectsBadPermissionMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.PermissionMode = "yolo"
	_, err := NewApp(cfg, AppOptions{Provider: testutil.NewFakeProvider(), Store: session.NopStore{}})
	assert.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, isTerminal(f))
	assert.False(t, isTerminal(&testWriter{}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }
