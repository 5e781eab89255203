package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the process-level bootstrap configuration, read once at
// startup from ragserve.yaml. Runtime pipeline parameters live in Snapshot.
type ServerConfig struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`
	// DataDir is the default storage root when the runtime snapshot has
	// no vector_db_path persisted yet.
	DataDir string `yaml:"data_dir"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogFile is the log file path. Empty logs to stderr only.
	LogFile string `yaml:"log_file"`
	// EmbedderBackend selects the embedder: "ollama" or "static".
	EmbedderBackend string `yaml:"embedder_backend"`
	// OllamaHost is the Ollama API endpoint for embeddings.
	OllamaHost string `yaml:"ollama_host"`
	// EmbedCacheSize is the LRU entry count for cached query embeddings.
	// Zero disables the cache.
	EmbedCacheSize int `yaml:"embed_cache_size"`
}

// NewServerConfig returns the bootstrap defaults.
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      "127.0.0.1:8642",
		DataDir:         "./data/ragserve",
		LogLevel:        "info",
		LogFile:         "",
		EmbedderBackend: "ollama",
		OllamaHost:      "http://localhost:11434",
		EmbedCacheSize:  1024,
	}
}

// LoadServerConfig loads configuration with increasing precedence:
//  1. Hardcoded defaults
//  2. YAML file at path (missing file is fine when path is the default)
//  3. Environment variables (RAGSERVE_*)
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := NewServerConfig()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if p := defaultServerConfigPath(); fileExists(p) {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	return cfg, nil
}

func defaultServerConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragserve", "ragserve.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ragserve", "ragserve.yaml")
}

func (c *ServerConfig) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read server config %s: %w", path, err)
	}

	var parsed ServerConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse server config %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero values from other.
func (c *ServerConfig) mergeWith(other *ServerConfig) {
	if other.ListenAddr != "" {
		c.ListenAddr = other.ListenAddr
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFile != "" {
		c.LogFile = other.LogFile
	}
	if other.EmbedderBackend != "" {
		c.EmbedderBackend = other.EmbedderBackend
	}
	if other.OllamaHost != "" {
		c.OllamaHost = other.OllamaHost
	}
	if other.EmbedCacheSize != 0 {
		c.EmbedCacheSize = other.EmbedCacheSize
	}
}

// applyEnvOverrides applies RAGSERVE_* environment variable overrides.
func (c *ServerConfig) applyEnvOverrides() {
	if v := os.Getenv("RAGSERVE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("RAGSERVE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RAGSERVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RAGSERVE_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("RAGSERVE_EMBEDDER"); v != "" {
		c.EmbedderBackend = v
	}
	if v := os.Getenv("RAGSERVE_OLLAMA_HOST"); v != "" {
		c.OllamaHost = v
	}
}

// Validate checks the bootstrap configuration.
func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	validBackends := map[string]bool{"ollama": true, "static": true}
	if !validBackends[strings.ToLower(c.EmbedderBackend)] {
		return fmt.Errorf("embedder_backend must be 'ollama' or 'static', got %s", c.EmbedderBackend)
	}
	if c.EmbedCacheSize < 0 {
		return fmt.Errorf("embed_cache_size must be non-negative, got %d", c.EmbedCacheSize)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
