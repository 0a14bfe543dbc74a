// Package config provides configuration management for the thesis tracker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Tracker     TrackerConfig `mapstructure:"tracker"`
	Feed        FeedConfig    `mapstructure:"feed"`
	Store       StoreConfig   `mapstructure:"store"`
	Lookup      LookupConfig  `mapstructure:"lookup"`
	UI          UIConfig      `mapstructure:"ui"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Credentials Credentials   `mapstructure:"-"` // Loaded separately
}

// TrackerConfig holds evaluation and reconciliation configuration.
type TrackerConfig struct {
	// ReconcileInterval is the minimum cadence between reconciliation passes.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	// StopProximityPercent is the distance-to-stop threshold for needs-review.
	StopProximityPercent float64 `mapstructure:"stop_proximity_percent"`
	// DownsidePercent is the drawdown-from-entry threshold for needs-review.
	DownsidePercent float64 `mapstructure:"downside_percent"`
	// DatabasePath overrides the default snapshot cache location.
	DatabasePath string `mapstructure:"database_path"`
}

// FeedConfig holds live quote feed configuration.
type FeedConfig struct {
	// Mode selects the feed transport: "stream" or "poll".
	Mode string `mapstructure:"mode"`
	// StreamURL is the websocket endpoint for streaming quotes.
	StreamURL string `mapstructure:"stream_url"`
	// PollURL is the HTTP endpoint for polled quote snapshots.
	PollURL string `mapstructure:"poll_url"`
	// PollInterval is the polling cadence when Mode is "poll".
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// StoreConfig holds thesis store API configuration.
type StoreConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LookupConfig holds price lookup service configuration.
type LookupConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
	TimeFormat   string `mapstructure:"time_format"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Credentials holds API credentials.
type Credentials struct {
	APIToken string `mapstructure:"api_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/thesis-tracker"
	}
	return filepath.Join(home, ".config", "thesis-tracker")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyDefaults(cfg *Config) {
	if cfg.Tracker.ReconcileInterval == 0 {
		cfg.Tracker.ReconcileInterval = 5 * time.Second
	}
	if cfg.Tracker.StopProximityPercent == 0 {
		cfg.Tracker.StopProximityPercent = 10.0
	}
	if cfg.Tracker.DownsidePercent == 0 {
		cfg.Tracker.DownsidePercent = 20.0
	}
	if cfg.Feed.Mode == "" {
		cfg.Feed.Mode = "poll"
	}
	if cfg.Feed.PollInterval == 0 {
		cfg.Feed.PollInterval = 15 * time.Second
	}
	if cfg.Feed.MaxRetries == 0 {
		cfg.Feed.MaxRetries = 5
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 15 * time.Second
	}
	if cfg.Lookup.Timeout == 0 {
		cfg.Lookup.Timeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRACKER_API_TOKEN"); v != "" {
		cfg.Credentials.APIToken = v
	}
	if v := os.Getenv("TRACKER_STORE_URL"); v != "" {
		cfg.Store.BaseURL = v
	}
	if v := os.Getenv("TRACKER_LOOKUP_URL"); v != "" {
		cfg.Lookup.BaseURL = v
	}
	if v := os.Getenv("TRACKER_FEED_URL"); v != "" {
		cfg.Feed.StreamURL = v
	}
	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Feed.Mode != "" && c.Feed.Mode != "stream" && c.Feed.Mode != "poll" {
		return fmt.Errorf("invalid feed mode: %s (must be 'stream' or 'poll')", c.Feed.Mode)
	}
	if c.Tracker.StopProximityPercent < 0 || c.Tracker.StopProximityPercent > 100 {
		return fmt.Errorf("stop_proximity_percent must be between 0 and 100")
	}
	if c.Tracker.DownsidePercent < 0 || c.Tracker.DownsidePercent > 100 {
		return fmt.Errorf("downside_percent must be between 0 and 100")
	}
	if c.Feed.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	return nil
}

// DatabasePath returns the snapshot cache path, defaulting under the config dir.
func (c *Config) DatabasePath() string {
	if c.Tracker.DatabasePath != "" {
		return c.Tracker.DatabasePath
	}
	return filepath.Join(DefaultConfigDir(), "tracker.db")
}
