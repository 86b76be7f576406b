// Package config handles Driftwood configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for the Driftwood client.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Server is the Driftwood forum server to talk to.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Bus settings for the live message stream.
	Bus BusConfig `yaml:"bus" mapstructure:"bus"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Tracking settings for the topic tracker.
	Tracking TrackingConfig `yaml:"tracking" mapstructure:"tracking"`

	// Stream settings for the post stream.
	Stream StreamConfig `yaml:"stream" mapstructure:"stream"`
}

// GlobalConfig contains global client settings.
type GlobalConfig struct {
	// DataDir is where the client stores its data (default: ~/.local/share/driftwood).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/driftwood).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// ServerConfig contains the forum server connection settings.
type ServerConfig struct {
	// BaseURL is the server root, e.g. https://forum.example.com.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// APIKey authenticates API requests.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// APIUsername is the username the API key acts as.
	APIUsername string `yaml:"api_username" mapstructure:"api_username"`

	// Timeout bounds a single API request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// BusConfig contains message bus settings.
type BusConfig struct {
	// URL is the NATS server URL. Empty selects the in-memory bus.
	URL string `yaml:"url" mapstructure:"url"`

	// SubjectPrefix namespaces the bus subjects.
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`

	// Durable names the consumer for resumable subscriptions.
	Durable string `yaml:"durable" mapstructure:"durable"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// TrackingConfig contains topic tracker settings.
type TrackingConfig struct {
	// MaxTracked caps how many topic states the tracker holds.
	MaxTracked int `yaml:"max_tracked" mapstructure:"max_tracked"`

	// MuteOverrideWindow is how long a local mute change outranks
	// server-pushed list rows.
	MuteOverrideWindow time.Duration `yaml:"mute_override_window" mapstructure:"mute_override_window"`

	// MutedTagsPolicy is "always" or "only_muted".
	MutedTagsPolicy string `yaml:"muted_tags_policy" mapstructure:"muted_tags_policy"`
}

// StreamConfig contains post stream settings.
type StreamConfig struct {
	// ChunkSize is how many posts load per window.
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "driftwood"),
			ConfigDir: filepath.Join(homeDir, ".config", "driftwood"),
		},
		Server: ServerConfig{
			Timeout: 30 * time.Second,
		},
		Bus: BusConfig{
			SubjectPrefix: "driftwood",
			Durable:       "driftwood-client",
		},
		Database: DatabaseConfig{
			Path:          "", // Will be set to DataDir/driftwood.db
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Tracking: TrackingConfig{
			MaxTracked:         4000,
			MuteOverrideWindow: 60 * time.Second,
			MutedTagsPolicy:    "only_muted",
		},
		Stream: StreamConfig{
			ChunkSize: 20,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}
	if c.Tracking.MaxTracked <= 0 {
		return fmt.Errorf("tracking.max_tracked must be positive")
	}
	if c.Tracking.MuteOverrideWindow < 0 {
		return fmt.Errorf("tracking.mute_override_window must not be negative")
	}
	switch c.Tracking.MutedTagsPolicy {
	case "always", "only_muted":
	default:
		return fmt.Errorf("tracking.muted_tags_policy must be %q or %q", "always", "only_muted")
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be %q or %q", "json", "console")
	}
	return nil
}

// DatabasePath returns the configured database path, defaulting into the
// data directory.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "driftwood.db")
}
