// Package config loads chatline configuration from .chatline/config.yaml
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chatline configuration.
type Config struct {
	// API configures the chat service connection.
	API APIConfig `yaml:"api"`

	// Chat configures turn behavior.
	Chat ChatConfig `yaml:"chat"`

	// History configures the local turn archive.
	History HistoryConfig `yaml:"history"`

	// Logging configures categorized file logging.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the wire client.
type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
	// Timeout applies to non-streaming REST calls.
	Timeout string `yaml:"timeout"`
}

// ChatConfig configures turn behavior.
type ChatConfig struct {
	DefaultModel string `yaml:"default_model"`
	// TurnTimeout bounds a full streamed turn when the caller supplies no deadline.
	TurnTimeout string `yaml:"turn_timeout"`
}

// HistoryConfig configures the local sqlite turn archive.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
}

// Defaults.
const (
	DefaultBaseURL     = "http://localhost:5529/api"
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTimeout     = "30s"
	DefaultTurnTimeout = "10m"
)

// Path returns the config file path under the workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".chatline", "config.yaml")
}

// Load reads config from workspace/.chatline/config.yaml, applies defaults,
// then applies environment overrides. A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == "" {
		c.API.Timeout = DefaultTimeout
	}
	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = DefaultModel
	}
	if c.Chat.TurnTimeout == "" {
		c.Chat.TurnTimeout = DefaultTurnTimeout
	}
	if c.History.DatabasePath == "" {
		c.History.DatabasePath = filepath.Join(".chatline", "history.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHATLINE_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("CHATLINE_AUTH_TOKEN"); v != "" {
		c.API.AuthToken = v
	}
	if v := os.Getenv("CHATLINE_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}
}

// APITimeout parses the REST timeout, falling back to the default on error.
func (c *Config) APITimeout() time.Duration {
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultTimeout)
	}
	return d
}

// TurnTimeout parses the per-turn deadline, falling back to the default on error.
func (c *Config) TurnTimeout() time.Duration {
	d, err := time.ParseDuration(c.Chat.TurnTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultTurnTimeout)
	}
	return d
}

// Save writes the config back to workspace/.chatline/config.yaml.
func Save(workspace string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
