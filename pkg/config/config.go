package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.heartside/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// model:
//   provider: openai
//   base_url: https://api.openai.com/v1
//   chat_model: gpt-4o
//   transcribe_model: gpt-4o-transcribe
// uploads:
//   dir: ./uploads
// chat:
//   offline: false
//
// Credentials are never stored in the file; they come from the
// environment (see Secrets).

type AppConfig struct {
	Server  ServerConfig `yaml:"server"`
	Model   ModelConfig  `yaml:"model"`
	Uploads UploadConfig `yaml:"uploads"`
	Chat    ChatConfig   `yaml:"chat"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type ModelConfig struct {
	Provider        *string `yaml:"provider"`
	BaseURL         *string `yaml:"base_url"`
	ChatModel       *string `yaml:"chat_model"`
	TranscribeModel *string `yaml:"transcribe_model"`
}

type UploadConfig struct {
	Dir *string `yaml:"dir"`
}

type ChatConfig struct {
	// Offline selects the deterministic scripted completion provider
	// instead of a live model. Useful for development without a key.
	Offline *bool `yaml:"offline"`
}

// Secrets holds credentials sourced from the environment only.
type Secrets struct {
	APIKey string `env:"HEARTSIDE_API_KEY"`
}

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8090
	DefaultChatModel       = "gpt-4o"
	DefaultTranscribeModel = "gpt-4o-transcribe"
	DefaultUploadDir       = "./uploads"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".heartside")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// DatabasePath returns the sqlite database location under the config
// directory.
func DatabasePath() (string, error) {
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "heartside.db"), nil
}

// Load reads ~/.heartside/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}
	if port := cfg.Port(); port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

// LoadSecrets reads credentials from the environment.
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{}
	if err := env.Parse(secrets); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return secrets, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Model:  ModelConfig{ChatModel: ptr(DefaultChatModel), TranscribeModel: ptr(DefaultTranscribeModel)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) ModelBaseURL() string {
	if c == nil || c.Model.BaseURL == nil {
		return ""
	}
	return strings.TrimSpace(*c.Model.BaseURL)
}

func (c *AppConfig) ChatModel() string {
	if c == nil || c.Model.ChatModel == nil {
		return DefaultChatModel
	}
	v := strings.TrimSpace(*c.Model.ChatModel)
	if v == "" {
		return DefaultChatModel
	}
	return v
}

func (c *AppConfig) TranscribeModel() string {
	if c == nil || c.Model.TranscribeModel == nil {
		return DefaultTranscribeModel
	}
	v := strings.TrimSpace(*c.Model.TranscribeModel)
	if v == "" {
		return DefaultTranscribeModel
	}
	return v
}

func (c *AppConfig) UploadDir() string {
	if c == nil || c.Uploads.Dir == nil {
		return DefaultUploadDir
	}
	v := strings.TrimSpace(*c.Uploads.Dir)
	if v == "" {
		return DefaultUploadDir
	}
	return v
}

func (c *AppConfig) Offline() bool {
	if c == nil || c.Chat.Offline == nil {
		return false
	}
	return *c.Chat.Offline
}

func ptr[T any](v T) *T { return &v }
