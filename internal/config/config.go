// Package config provides the lofi configuration file and its defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for opening a lofi database.
type Config struct {
	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Log configuration
	Log LogConfig `yaml:"log"`
}

// DatabaseConfig holds storage and writer configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path"`

	// WriteMode is queue (wait for the open write) or fail-fast
	WriteMode string `yaml:"write_mode"`

	// BusyTimeout is how long a connection waits on a locked database
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// ReadConns is the size of the read connection pool (1-64)
	ReadConns int `yaml:"read_conns"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`

	// Format is text or json
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "lofi.db",
			WriteMode:   "queue",
			BusyTimeout: 5 * time.Second,
			ReadConns:   4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Path == ":memory:" {
		return fmt.Errorf("database.path must be a file (in-memory databases are not supported)")
	}
	switch c.Database.WriteMode {
	case "queue", "fail-fast":
	default:
		return fmt.Errorf("invalid database.write_mode: %q (must be queue or fail-fast)", c.Database.WriteMode)
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative, got %s", c.Database.BusyTimeout)
	}
	if c.Database.ReadConns < 1 || c.Database.ReadConns > 64 {
		return fmt.Errorf("database.read_conns must be between 1 and 64, got %d", c.Database.ReadConns)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q (must be text or json)", c.Log.Format)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
// Unknown keys are rejected.
func LoadFromFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv overrides configuration from environment variables.
// Environment variables use the LOFI_ prefix.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("LOFI_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LOFI_WRITE_MODE"); v != "" {
		cfg.Database.WriteMode = v
	}
	if v := os.Getenv("LOFI_BUSY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LOFI_BUSY_TIMEOUT: %w", err)
		}
		cfg.Database.BusyTimeout = d
	}
	if v := os.Getenv("LOFI_READ_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOFI_READ_CONNS: %w", err)
		}
		cfg.Database.ReadConns = n
	}
	if v := os.Getenv("LOFI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOFI_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log.level: %q (must be debug, info, warn or error)", s)
	}
}

// NewLogger builds the slog logger described by c, writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log.format: %q (must be text or json)", c.Format)
	}
}
