// Package config defines the taskstream client configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level taskstream configuration.
type Config struct {
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect"`

	// ScratchPath is the SQLite file holding saved query text for
	// same-session re-hydration. Empty disables the scratch store.
	ScratchPath string `json:"scratch_path" yaml:"scratch_path"`

	// GraceSeconds is how long a connection with no attached consumers
	// survives before teardown.
	GraceSeconds int    `json:"grace_seconds" yaml:"grace_seconds"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
}

// BackendConfig locates the task-execution service.
type BackendConfig struct {
	// URL is the stream endpoint base; the task id is appended as the
	// final path segment, e.g. ws://localhost:8000/ws/tasks.
	URL string `json:"url" yaml:"url"`
}

// ReconnectConfig controls transport reconnection.
type ReconnectConfig struct {
	Auto         bool `json:"auto" yaml:"auto"`
	DelaySeconds int  `json:"delay_seconds" yaml:"delay_seconds"`
	MaxAttempts  int  `json:"max_attempts" yaml:"max_attempts"`
}

// Delay returns the fixed reconnect delay as a duration.
func (r ReconnectConfig) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL: "ws://localhost:8000/ws/tasks",
		},
		Reconnect: ReconnectConfig{
			Auto:         true,
			DelaySeconds: 3,
			MaxAttempts:  5,
		},
		ScratchPath:  "./taskstream.db",
		GraceSeconds: 5,
		LogLevel:     "info",
	}
}

// Load reads the config file at path, applying defaults for missing fields.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Backend.URL == "" {
		return nil, fmt.Errorf("config %s: backend.url is required", path)
	}
	return cfg, nil
}

// Save writes the config to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
