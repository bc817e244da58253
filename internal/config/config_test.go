package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home directory: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "tilde alone",
			input: "~",
			want:  homeDir,
		},
		{
			name:  "tilde with path",
			input: "~/Documents",
			want:  filepath.Join(homeDir, "Documents"),
		},
		{
			name:  "absolute path unchanged",
			input: "/usr/local/bin",
			want:  "/usr/local/bin",
		},
		{
			name:  "relative path unchanged",
			input: "relative/path",
			want:  "relative/path",
		},
		{
			name:  "tilde in middle not expanded",
			input: "/some/path/~user/file",
			want:  "/some/path/~user/file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expandPath(tt.input)
			if got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.Translate.MaxConcurrent != 1 {
		t.Errorf("default Translate.MaxConcurrent = %d, want 1", cfg.Translate.MaxConcurrent)
	}
	if cfg.Translate.KeepaliveSeconds != 30 {
		t.Errorf("default Translate.KeepaliveSeconds = %d, want 30", cfg.Translate.KeepaliveSeconds)
	}
	if cfg.Translate.ChannelBuffer != 64 {
		t.Errorf("default Translate.ChannelBuffer = %d, want 64", cfg.Translate.ChannelBuffer)
	}
	if cfg.Engine.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("default Engine.APIKeyEnv = %q, want %q", cfg.Engine.APIKeyEnv, "OPENAI_API_KEY")
	}
	if cfg.Auth.TokenExpiryHours != 24 {
		t.Errorf("default Auth.TokenExpiryHours = %d, want 24", cfg.Auth.TokenExpiryHours)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("default Web.Port = %d, want 8080", cfg.Web.Port)
	}
}

func TestGetMaxConcurrent(t *testing.T) {
	// Direct value
	cfg := &Config{
		Translate: TranslateConfig{MaxConcurrent: 3},
	}
	if got := cfg.GetMaxConcurrent(); got != 3 {
		t.Errorf("GetMaxConcurrent() = %d, want 3", got)
	}

	// Env var override
	cfg = &Config{
		Translate: TranslateConfig{
			MaxConcurrent:    1,
			MaxConcurrentEnv: "TEST_MAX_CONCURRENT",
		},
	}
	os.Setenv("TEST_MAX_CONCURRENT", "5")
	defer os.Unsetenv("TEST_MAX_CONCURRENT")

	if got := cfg.GetMaxConcurrent(); got != 5 {
		t.Errorf("GetMaxConcurrent() with env var = %d, want 5", got)
	}

	// Never below 1
	cfg = &Config{}
	if got := cfg.GetMaxConcurrent(); got != 1 {
		t.Errorf("GetMaxConcurrent() with zero config = %d, want 1", got)
	}
}

func TestGetEngineAPIKey(t *testing.T) {
	// Direct key takes precedence
	cfg := &Config{
		Engine: EngineConfig{
			APIKey:    "direct-key",
			APIKeyEnv: "TEST_ENGINE_KEY",
		},
	}
	if got := cfg.GetEngineAPIKey(); got != "direct-key" {
		t.Errorf("GetEngineAPIKey() with direct key = %q, want %q", got, "direct-key")
	}

	// Env var fallback
	cfg = &Config{
		Engine: EngineConfig{APIKeyEnv: "TEST_ENGINE_KEY_FALLBACK"},
	}
	os.Setenv("TEST_ENGINE_KEY_FALLBACK", "env-key")
	defer os.Unsetenv("TEST_ENGINE_KEY_FALLBACK")

	if got := cfg.GetEngineAPIKey(); got != "env-key" {
		t.Errorf("GetEngineAPIKey() with env var = %q, want %q", got, "env-key")
	}

	// Empty when nothing configured
	cfg = &Config{}
	if got := cfg.GetEngineAPIKey(); got != "" {
		t.Errorf("GetEngineAPIKey() with nothing configured = %q, want empty string", got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Translate.MaxConcurrent != 1 {
		t.Errorf("Translate.MaxConcurrent = %d, want default 1", cfg.Translate.MaxConcurrent)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("data_dir: /tmp/dt\ntranslate:\n  max_concurrent: 4\nweb:\n  port: 9090\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/tmp/dt" {
		t.Errorf("DataDir = %q, want /tmp/dt", cfg.DataDir)
	}
	if cfg.Translate.MaxConcurrent != 4 {
		t.Errorf("Translate.MaxConcurrent = %d, want 4", cfg.Translate.MaxConcurrent)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("Web.Port = %d, want 9090", cfg.Web.Port)
	}
	// Unspecified keys keep defaults
	if cfg.Translate.KeepaliveSeconds != 30 {
		t.Errorf("Translate.KeepaliveSeconds = %d, want default 30", cfg.Translate.KeepaliveSeconds)
	}
}
