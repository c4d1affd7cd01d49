// Package config holds the webpatrol server configuration, loaded from
// a YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all webpatrol configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Browser  BrowserConfig  `yaml:"browser"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig configures the headless browser pool.
type BrowserConfig struct {
	// DebuggerURL attaches to an already-running browser instead of
	// launching one.
	DebuggerURL    string   `yaml:"debugger_url"`
	Bin            string   `yaml:"bin"`
	Headless       *bool    `yaml:"headless"`
	Flags          []string `yaml:"flags"`
	PoolSize       int      `yaml:"pool_size"`
	ConnectTimeout string   `yaml:"connect_timeout"`
}

// StorageConfig configures on-disk artifact directories.
type StorageConfig struct {
	ScreenshotDir string `yaml:"screenshot_dir"`
	VisualDir     string `yaml:"visual_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Path: "data/webpatrol.db"},
		Browser: BrowserConfig{
			PoolSize:       2,
			ConnectTimeout: "30s",
		},
		Storage: StorageConfig{
			ScreenshotDir: "data/screenshots",
			VisualDir:     "data/visual",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override in either case.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("WEBPATROL_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("WEBPATROL_DB"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("WEBPATROL_BROWSER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if bin := os.Getenv("WEBPATROL_BROWSER_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if level := os.Getenv("WEBPATROL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ConnectTimeout returns the browser connect timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.ConnectTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address not configured")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}
	if c.Browser.PoolSize < 0 {
		return fmt.Errorf("browser pool size must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}
