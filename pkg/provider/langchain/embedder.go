package langchain

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/killallgit/relay/pkg/config"
)

// NewEmbedder builds the ollama embedder used by the session index
func NewEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	opts := []ollama.Option{
		ollama.WithHTTPClient(httpClient(cfg.Ollama.Timeout)),
		ollama.WithModel(cfg.Session.EmbedModel),
	}
	if cfg.Ollama.URL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.Ollama.URL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama embedder: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}
