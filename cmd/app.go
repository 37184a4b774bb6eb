package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	chromem "github.com/philippgille/chromem-go"

	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/orchestrator"
	"github.com/killallgit/relay/pkg/provider"
	"github.com/killallgit/relay/pkg/provider/bridge"
	"github.com/killallgit/relay/pkg/provider/langchain"
	"github.com/killallgit/relay/pkg/render"
	"github.com/killallgit/relay/pkg/session"
	"github.com/killallgit/relay/pkg/tools"
)

// App is everything a command needs to run one conversation
type App struct {
	Config       *config.Config
	Provider     provider.Provider
	Store        session.Store
	Table        *tools.Table
	Orchestrator *orchestrator.Orchestrator
	Renderer     *render.Renderer

	closers []io.Closer
}

// AppOptions overrides parts of the wiring
type AppOptions struct {
	// Provider replaces the configured provider
	Provider provider.Provider
	// Store replaces the configured session store
	Store     session.Store
	Presenter approval.Presenter
	Plain     bool
}

// NewApp wires the provider, store, tool table and orchestrator from cfg
func NewApp(cfg *config.Config, opts AppOptions) (*App, error) {
	log := logger.WithComponent("app")

	app := &App{Config: cfg}

	table, err := NewTable(cfg)
	if err != nil {
		return nil, err
	}
	app.Table = table

	app.Provider = opts.Provider
	if app.Provider == nil {
		if app.Provider, err = NewProvider(cfg); err != nil {
			return nil, err
		}
	}

	app.Store = opts.Store
	if app.Store == nil {
		store, closer, err := NewStore(cfg)
		if err != nil {
			return nil, err
		}
		app.Store = store
		if closer != nil {
			app.closers = append(app.closers, closer)
		}
	}

	orchCfg, err := orchestrator.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}

	app.Orchestrator = orchestrator.New(app.Provider,
		orchestrator.WithConfig(orchCfg),
		orchestrator.WithStore(app.Store),
		orchestrator.WithTable(table),
		orchestrator.WithPresenter(opts.Presenter),
	)

	app.Renderer = render.New(render.Options{
		ShowThinking: cfg.ShowThinking,
		Markdown:     cfg.Markdown,
		Plain:        opts.Plain,
		Table:        table,
	})

	log.Info("Application wired: provider=%s model=%s store=%s", cfg.Provider, orchCfg.Model, cfg.Session.Store)
	return app, nil
}

// Close shuts the orchestrator down and releases the store
func (a *App) Close() error {
	var first error
	if a.Orchestrator != nil {
		first = a.Orchestrator.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewProvider builds the provider named by cfg.Provider
func NewProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "bridge":
		if cfg.Bridge.Command == "" {
			return nil, fmt.Errorf("bridge provider needs bridge.command: %w", bridge.ErrNoCommand)
		}
		return bridge.New(bridge.Config{
			Command: cfg.Bridge.Command,
			Args:    cfg.Bridge.Args,
			WorkDir: cfg.Bridge.WorkDir,
		}), nil
	default:
		return langchain.NewFromConfig(cfg)
	}
}

// NewStore opens the configured session store. The closer is nil for stores
// holding no resources.
func NewStore(cfg *config.Config) (session.Store, io.Closer, error) {
	var store session.Store
	var closer io.Closer

	switch cfg.Session.Store {
	case "none":
		return session.NopStore{}, nil, nil
	case "sqlite":
		s, err := session.NewSQLiteStore(config.ResolvePath(cfg.Session.Database))
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, s
	default:
		s, err := session.NewFileStore(config.ResolvePath(cfg.Session.Directory))
		if err != nil {
			return nil, nil, err
		}
		store = s
	}

	if cfg.Session.Index {
		var index *session.Index
		embed, err := embeddingFunc(cfg)
		if err == nil {
			index, err = session.NewIndex(config.ResolvePath(cfg.Session.IndexDir), embed)
		}
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, nil, err
		}
		store = session.NewIndexedStore(store, index)
	}
	return store, closer, nil
}

// embeddingFunc picks the index embedding. nil means the local hash embedding.
func embeddingFunc(cfg *config.Config) (chromem.EmbeddingFunc, error) {
	if cfg.Session.Embedder != "ollama" {
		return nil, nil
	}
	embedder, err := langchain.NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return session.LangchainEmbedding(embedder), nil
}

// NewTable loads the tool classification table, falling back to the defaults
func NewTable(cfg *config.Config) (*tools.Table, error) {
	if cfg.Tools.TableFile == "" {
		return tools.DefaultTable(), nil
	}
	table, err := tools.LoadTable(config.ResolvePath(cfg.Tools.TableFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load tool table: %w", err)
	}
	return table, nil
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
