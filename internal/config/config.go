// Package config provides configuration management for the sqrl daemon.
// Settings are loaded from an optional YAML file and environment variables
// with the SQRL_ prefix; environment variables override file values, and
// every option has a sensible default.
//
// Storage paths are explicit configuration values. Nothing in the storage
// layer derives a path from the environment on its own.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the daemon.
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Watcher WatcherConfig `yaml:"watcher"`
}

// DaemonConfig contains IPC server settings.
type DaemonConfig struct {
	// SocketPath is where the Unix-domain socket is created.
	SocketPath string `yaml:"socket_path"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Engine selects the storage backend: sqlite (default) or postgres.
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database file. It is
	// created if absent.
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string used when Engine is postgres
	// (team/org-scoped shared stores).
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig contains settings for the external classifier and memory-writer
// services and the embedding provider.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API endpoint (default: OpenRouter).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against BaseURL.
	APIKey string `yaml:"api_key"`

	// Model is the model used for the memory writer and the two-stage
	// classifier.
	Model string `yaml:"model"`

	// EmbeddingModel is the model used for embeddings.
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingDims is the expected embedding dimension.
	EmbeddingDims int `yaml:"embedding_dims"`

	// RequestsPerMinute caps outbound LLM calls. Zero disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Timeout bounds a single LLM request.
	Timeout time.Duration `yaml:"timeout"`
}

// IngestConfig contains pipeline tuning.
type IngestConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// WatcherConfig contains session-log watcher settings.
type WatcherConfig struct {
	// Enabled turns the log watcher on.
	Enabled bool `yaml:"enabled"`

	// LogDir is the root of the AI-tool session logs
	// (default: ~/.claude/projects).
	LogDir string `yaml:"log_dir"`

	// Debounce is how long a session file must stay quiet before it is
	// re-ingested.
	Debounce time.Duration `yaml:"debounce"`
}

// Load builds a Config from defaults, then the YAML file at path (if path is
// non-empty and the file exists), then SQRL_ environment variables. Later
// sources win.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Ingest.ChunkSize <= 0 {
		return nil, fmt.Errorf("config: chunk_size must be positive, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.Overlap < 0 || cfg.Ingest.Overlap >= cfg.Ingest.ChunkSize {
		return nil, fmt.Errorf("config: overlap must be in [0, chunk_size), got %d", cfg.Ingest.Overlap)
	}

	return cfg, nil
}

func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Daemon: DaemonConfig{
			SocketPath: filepath.Join(home, ".sqrl", "sqrl.sock"),
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: filepath.Join(home, ".sqrl"),
		},
		LLM: LLMConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			Model:             "google/gemini-2.0-flash-001",
			EmbeddingModel:    "text-embedding-3-small",
			EmbeddingDims:     1536,
			RequestsPerMinute: 60,
			Timeout:           60 * time.Second,
		},
		Ingest: IngestConfig{
			ChunkSize: 100,
			Overlap:   10,
		},
		Watcher: WatcherConfig{
			Enabled:  false,
			LogDir:   filepath.Join(home, ".claude", "projects"),
			Debounce: 2 * time.Second,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Daemon.SocketPath = getEnv("SQRL_SOCKET_PATH", cfg.Daemon.SocketPath)
	cfg.Storage.Engine = getEnv("SQRL_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("SQRL_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("SQRL_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.LLM.BaseURL = getEnv("SQRL_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("SQRL_LLM_API_KEY", getEnv("OPENROUTER_API_KEY", cfg.LLM.APIKey))
	cfg.LLM.Model = getEnv("SQRL_STRONG_MODEL", cfg.LLM.Model)
	cfg.LLM.EmbeddingModel = getEnv("SQRL_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.EmbeddingDims = getEnvInt("SQRL_EMBEDDING_DIMS", cfg.LLM.EmbeddingDims)
	cfg.LLM.RequestsPerMinute = getEnvInt("SQRL_LLM_RPM", cfg.LLM.RequestsPerMinute)
	cfg.Ingest.ChunkSize = getEnvInt("SQRL_CHUNK_SIZE", cfg.Ingest.ChunkSize)
	cfg.Ingest.Overlap = getEnvInt("SQRL_CHUNK_OVERLAP", cfg.Ingest.Overlap)
	cfg.Watcher.Enabled = getEnvBool("SQRL_WATCHER_ENABLED", cfg.Watcher.Enabled)
	cfg.Watcher.LogDir = getEnv("SQRL_WATCHER_LOG_DIR", cfg.Watcher.LogDir)
}

// getEnv returns the environment variable value or the default if unset.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the environment variable parsed as int, or the default
// if unset or unparsable.
func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvBool returns the environment variable parsed as bool, or the default
// if unset or unparsable.
func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
