package mirror

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the mirror service configuration, usually read from
// treemirror.yaml.
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"` // debug | info | warn | error
	Journal   JournalConfig   `yaml:"journal"`
	Spool     SpoolConfig     `yaml:"spool"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// JournalConfig controls the SQLite replay journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SpoolConfig names a directory of fragment files to ingest. Empty disables
// the spool.
type SpoolConfig struct {
	Dir string `yaml:"dir"`
}

// WebSocketConfig bounds the /v1/ws fragment feed.
type WebSocketConfig struct {
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// HTTPConfig bounds request bodies on the POST routes.
type HTTPConfig struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mirror: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mirror: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8420"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = "treemirror.db"
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		c.WebSocket.MaxMessageBytes = 1 << 20
	}
	if c.WebSocket.ReadTimeout <= 0 {
		c.WebSocket.ReadTimeout = 60 * time.Second
	}
	if c.WebSocket.WriteTimeout <= 0 {
		c.WebSocket.WriteTimeout = 10 * time.Second
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 8 << 20
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("mirror: unknown log level %q", s)
	}
}
