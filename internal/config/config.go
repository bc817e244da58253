package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Debug     bool            `yaml:"debug"` // Enable debug logging
	Web       WebConfig       `yaml:"web"`
	Translate TranslateConfig `yaml:"translate"`
	Engine    EngineConfig    `yaml:"engine"`
	Auth      AuthConfig      `yaml:"auth"`
}

// WebConfig represents HTTP server configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TranslateConfig controls the translation pipeline
type TranslateConfig struct {
	// MaxConcurrent bounds how many translation jobs run inside the engine
	// at once. Jobs beyond the budget stay queued behind the semaphore.
	MaxConcurrent    int    `yaml:"max_concurrent"`
	MaxConcurrentEnv string `yaml:"max_concurrent_env"` // Env var override

	// KeepaliveSeconds is the SSE idle window before a ping is emitted.
	KeepaliveSeconds int `yaml:"keepalive_seconds"`

	// ChannelBuffer is the per-task event channel capacity. Events published
	// to a full channel are dropped.
	ChannelBuffer int `yaml:"channel_buffer"`
}

// EngineConfig holds defaults for the built-in translation engine
type EngineConfig struct {
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`     // Direct API key (takes precedence over api_key_env)
	APIKeyEnv  string `yaml:"api_key_env"` // Environment variable name containing API key
	BaseURL    string `yaml:"base_url"`
	ChunkChars int    `yaml:"chunk_chars"` // Max characters per translation part
}

// AuthConfig represents session token configuration
type AuthConfig struct {
	TokenExpiryHours int `yaml:"token_expiry_hours"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "", // Must be specified by user
		Web: WebConfig{
			Host: "localhost",
			Port: 8080,
		},
		Translate: TranslateConfig{
			MaxConcurrent:    1, // the engine is heavyweight, serial by default
			MaxConcurrentEnv: "MAX_CONCURRENT_TRANSLATIONS",
			KeepaliveSeconds: 30,
			ChannelBuffer:    64,
		},
		Engine: EngineConfig{
			Model:      "gpt-4o-mini",
			APIKeyEnv:  "OPENAI_API_KEY",
			BaseURL:    "https://api.openai.com/v1",
			ChunkChars: 2000,
		},
		Auth: AuthConfig{
			TokenExpiryHours: 24,
		},
	}
}

// Load loads configuration from the specified path, falling back to defaults
func Load(configPath string) (*Config, error) {
	// If no path specified, use default location
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".config", "doc-translator", "config.yaml")
	}

	// Expand ~ in path
	configPath = expandPath(configPath)

	// Start with defaults
	cfg := DefaultConfig()

	// Try to load from file
	data, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, return defaults
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand ~ in data_dir if present
	cfg.DataDir = expandPath(cfg.DataDir)

	return cfg, nil
}

// GetMaxConcurrent returns the admission capacity, checking the direct value
// first then the env var override. Never less than 1.
func (c *Config) GetMaxConcurrent() int {
	n := c.Translate.MaxConcurrent
	if c.Translate.MaxConcurrentEnv != "" {
		if val := os.Getenv(c.Translate.MaxConcurrentEnv); val != "" {
			if parsed, err := strconv.Atoi(val); err == nil {
				n = parsed
			}
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// GetEngineAPIKey returns the engine API key, checking direct key first then env var
func (c *Config) GetEngineAPIKey() string {
	if c.Engine.APIKey != "" {
		return c.Engine.APIKey
	}
	if c.Engine.APIKeyEnv != "" {
		return os.Getenv(c.Engine.APIKeyEnv)
	}
	return ""
}

// expandPath expands ~ to home directory in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if len(path) == 1 {
			return homeDir
		}
		return filepath.Join(homeDir, path[1:])
	}

	return path
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
