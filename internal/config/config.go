package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the listener settings
type ServerConfig struct {
	Addr                   string `yaml:"addr"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// FetchConfig controls outbound requests made by the resolver
type FetchConfig struct {
	UserAgent      string `yaml:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	MaxRedirects   int    `yaml:"max_redirects"`
}

// JournalConfig controls the optional SQLite fetch journal
type JournalConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Path                 string `yaml:"path"`
	RetentionHours       int    `yaml:"retention_hours"`
	PruneIntervalMinutes int    `yaml:"prune_interval_minutes"`
}

// LogConfig selects the logger flavor and level
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// Timeout returns the per-attempt outbound timeout
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long graceful shutdown may take
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// Retention returns how long journal rows are kept
func (j JournalConfig) Retention() time.Duration {
	return time.Duration(j.RetentionHours) * time.Hour
}

// PruneInterval returns the delay between journal cleanups
func (j JournalConfig) PruneInterval() time.Duration {
	return time.Duration(j.PruneIntervalMinutes) * time.Minute
}

// DataDir returns the path to the rssss data directory
// Checks RSSSS_DATA_DIR environment variable first, then defaults to ~/.rssss/
func DataDir() (string, error) {
	if dataDir := os.Getenv("RSSSS_DATA_DIR"); dataDir != "" {
		return dataDir, nil
	}

	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join(usr.HomeDir, ".rssss"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist
func EnsureDataDir() error {
	dir, err := DataDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// LoadConfig loads configuration from a YAML file.
// Fields missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides file settings with environment variables
func (c *Config) ApplyEnv() {
	if addr := os.Getenv("RSSSS_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate checks that the numeric limits make sense
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be positive"))
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("fetch.max_body_bytes must be positive"))
	}
	if c.Fetch.MaxRedirects < 0 {
		errs = append(errs, errors.New("fetch.max_redirects must not be negative"))
	}
	if c.Journal.Enabled {
		if c.Journal.RetentionHours <= 0 {
			errs = append(errs, errors.New("journal.retention_hours must be positive"))
		}
		if c.Journal.PruneIntervalMinutes <= 0 {
			errs = append(errs, errors.New("journal.prune_interval_minutes must be positive"))
		}
	}
	return errors.Join(errs...)
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                   "127.0.0.1:8080",
			ShutdownTimeoutSeconds: 5,
		},
		Fetch: FetchConfig{
			UserAgent:      "rssss",
			TimeoutSeconds: 60,
			MaxBodyBytes:   1 << 20, // 1MB
			MaxRedirects:   1,
		},
		Journal: JournalConfig{
			Enabled:              false,
			Path:                 "fetches.db",
			RetentionHours:       72,
			PruneIntervalMinutes: 10,
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
