package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Provider       string             `mapstructure:"provider"` // ollama, openai, bridge
	Model          string             `mapstructure:"model"`
	MaxTokens      int                `mapstructure:"max_tokens"`
	SystemPrompt   string             `mapstructure:"system_prompt"`
	PermissionMode string             `mapstructure:"permission_mode"`
	Streaming      bool               `mapstructure:"streaming"`
	ShowThinking   bool               `mapstructure:"show_thinking"`
	Markdown       bool               `mapstructure:"markdown"`
	Ollama         OllamaConfig       `mapstructure:"ollama"`
	OpenAI         OpenAIConfig       `mapstructure:"openai"`
	Bridge         BridgeConfig       `mapstructure:"bridge"`
	Logging        LoggingConfig      `mapstructure:"logging"`
	Session        SessionConfig      `mapstructure:"session"`
	Orchestrator   OrchestratorConfig `mapstructure:"orchestrator"`
	Tools          ToolsConfig        `mapstructure:"tools"`
}

// OllamaConfig holds Ollama-specific configuration
type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"` // For Azure or custom endpoints
	Timeout time.Duration `mapstructure:"timeout"`
}

// BridgeConfig describes the external process that speaks the NDJSON event bridge
type BridgeConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	WorkDir string   `mapstructure:"work_dir"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile    string `mapstructure:"log_file"`
	Preserve   bool   `mapstructure:"preserve"`
	Level      string `mapstructure:"level"`
	EchoErrors bool   `mapstructure:"echo_errors"`
}

// SessionConfig selects and configures session persistence
type SessionConfig struct {
	Store      string `mapstructure:"store"` // file, sqlite, none
	Directory  string `mapstructure:"directory"`
	Database   string `mapstructure:"database"`
	Index      bool   `mapstructure:"index"`
	IndexDir   string `mapstructure:"index_dir"`
	Embedder   string `mapstructure:"embedder"` // hash, ollama
	EmbedModel string `mapstructure:"embed_model"`
}

// OrchestratorConfig tunes the streaming turn loop
type OrchestratorConfig struct {
	Debounce        time.Duration `mapstructure:"debounce"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
	PlanPolicy      string        `mapstructure:"plan_policy"` // longest, priority
	CompactPrompt   string        `mapstructure:"compact_prompt"`
}

// ToolsConfig points at the tool classification table
type ToolsConfig struct {
	TableFile string `mapstructure:"table_file"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Loaded reports whether Load has completed successfully
func Loaded() bool {
	return cfg != nil
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.relay")
		viper.AddConfigPath(filepath.Join(xdgConfigHome, ".relay"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := normalize(loaded); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("provider", "ollama")
	viper.SetDefault("model", "")
	viper.SetDefault("max_tokens", 8192)
	viper.SetDefault("system_prompt", "")
	viper.SetDefault("permission_mode", "default")
	viper.SetDefault("streaming", true)
	viper.SetDefault("show_thinking", true)
	viper.SetDefault("markdown", false)

	viper.SetDefault("ollama.url", "http://localhost:11434")
	viper.SetDefault("ollama.model", "qwen3:latest")
	viper.SetDefault("ollama.timeout", "90s")

	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.timeout", "60s")

	viper.SetDefault("bridge.command", "")
	viper.SetDefault("bridge.args", []string{})
	viper.SetDefault("bridge.work_dir", "")

	viper.SetDefault("logging.log_file", "./.relay/system.log")
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.echo_errors", false)

	viper.SetDefault("session.store", "file")
	viper.SetDefault("session.directory", "./.relay/sessions")
	viper.SetDefault("session.database", "./.relay/sessions.db")
	viper.SetDefault("session.index", false)
	viper.SetDefault("session.index_dir", "./.relay/index")
	viper.SetDefault("session.embedder", "hash")
	viper.SetDefault("session.embed_model", "nomic-embed-text")

	viper.SetDefault("orchestrator.debounce", "50ms")
	viper.SetDefault("orchestrator.approval_timeout", "0s")
	viper.SetDefault("orchestrator.plan_policy", "longest")
	viper.SetDefault("orchestrator.compact_prompt", "/compact")

	viper.SetDefault("tools.table_file", "")
}

// bindEnvironmentVariables binds specific environment variables to Viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY", "RELAY_OPENAI_API_KEY")

	viper.BindEnv("provider", "RELAY_PROVIDER")
	viper.BindEnv("model", "RELAY_MODEL")
	viper.BindEnv("permission_mode", "RELAY_PERMISSION_MODE")
	viper.BindEnv("logging.log_file", "RELAY_LOG_FILE")
	viper.BindEnv("logging.level", "RELAY_LOG_LEVEL")
	viper.BindEnv("logging.preserve", "RELAY_LOG_PRESERVE")
	viper.BindEnv("ollama.url", "RELAY_OLLAMA_URL")
	viper.BindEnv("ollama.model", "RELAY_OLLAMA_MODEL")
	viper.BindEnv("bridge.command", "RELAY_BRIDGE_COMMAND")
	viper.BindEnv("session.store", "RELAY_SESSION_STORE")
	viper.BindEnv("session.directory", "RELAY_SESSION_DIR")
	viper.BindEnv("orchestrator.plan_policy", "RELAY_PLAN_POLICY")
	viper.BindEnv("tools.table_file", "RELAY_TOOL_TABLE")
}

// normalize validates enumerations and durations after unmarshalling
func normalize(c *Config) error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case "ollama", "openai", "bridge":
	default:
		return fmt.Errorf("invalid provider %q", c.Provider)
	}

	switch c.PermissionMode {
	case "default", "acceptEdits", "plan", "bypassPermissions":
	default:
		return fmt.Errorf("invalid permission_mode %q", c.PermissionMode)
	}

	c.Orchestrator.PlanPolicy = strings.ToLower(strings.TrimSpace(c.Orchestrator.PlanPolicy))
	switch c.Orchestrator.PlanPolicy {
	case "longest", "priority":
	default:
		return fmt.Errorf("invalid orchestrator.plan_policy %q", c.Orchestrator.PlanPolicy)
	}

	c.Session.Store = strings.ToLower(strings.TrimSpace(c.Session.Store))
	switch c.Session.Store {
	case "file", "sqlite", "none":
	default:
		return fmt.Errorf("invalid session.store %q", c.Session.Store)
	}
	c.Session.Embedder = strings.ToLower(strings.TrimSpace(c.Session.Embedder))
	switch c.Session.Embedder {
	case "", "hash", "ollama":
	default:
		return fmt.Errorf("invalid session.embedder %q", c.Session.Embedder)
	}

	if c.Orchestrator.Debounce < 0 {
		return fmt.Errorf("invalid orchestrator.debounce: %v", c.Orchestrator.Debounce)
	}
	if c.Orchestrator.ApprovalTimeout < 0 {
		return fmt.Errorf("invalid orchestrator.approval_timeout: %v", c.Orchestrator.ApprovalTimeout)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens: %d", c.MaxTokens)
	}

	return nil
}

// ResolvedModel returns the model for the selected provider, preferring the
// top-level override.
func (c *Config) ResolvedModel() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.Provider {
	case "openai":
		return c.OpenAI.Model
	case "ollama":
		return c.Ollama.Model
	}
	return ""
}
