package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.ChatModel(); got != DefaultChatModel {
		t.Fatalf("cfg.ChatModel() = %q, want %q", got, DefaultChatModel)
	}
	if cfg.Offline() {
		t.Fatalf("cfg.Offline() = true, want false")
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
}

func TestLoad_ParsesConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".heartside")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := []byte(`
server:
  host: 0.0.0.0
  port: 9000
model:
  base_url: http://127.0.0.1:11434/v1
  chat_model: qwen2.5
chat:
  offline: true
`)
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Host(); got != "0.0.0.0" {
		t.Fatalf("cfg.Host() = %q, want %q", got, "0.0.0.0")
	}
	if got := cfg.Port(); got != 9000 {
		t.Fatalf("cfg.Port() = %d, want %d", got, 9000)
	}
	if got := cfg.ModelBaseURL(); got != "http://127.0.0.1:11434/v1" {
		t.Fatalf("cfg.ModelBaseURL() = %q", got)
	}
	if got := cfg.ChatModel(); got != "qwen2.5" {
		t.Fatalf("cfg.ChatModel() = %q, want %q", got, "qwen2.5")
	}
	if !cfg.Offline() {
		t.Fatalf("cfg.Offline() = false, want true")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".heartside")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("server:\n  port: 70000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for out-of-range port")
	}
}

func TestLoadSecrets_FromEnv(t *testing.T) {
	t.Setenv("HEARTSIDE_API_KEY", "sk-test-123")

	secrets, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets() error = %v", err)
	}
	if secrets.APIKey != "sk-test-123" {
		t.Fatalf("APIKey = %q, want %q", secrets.APIKey, "sk-test-123")
	}
}
