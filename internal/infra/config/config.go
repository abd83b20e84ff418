// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server       ServerConfig            `yaml:"server"`
	Playback     PlaybackConfig          `yaml:"playback"`
	Search       SearchConfig            `yaml:"search"`
	Store        StoreConfig             `yaml:"store"`
	Filters      map[string]FilterConfig `yaml:"filters"`
	Messages     MessagesConfig          `yaml:"messages"`
	Spotify      SpotifyConfig           `yaml:"spotify"`
	Notification NotificationConfig      `yaml:"notification"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Token string      `yaml:"token"` // Admin token for mutating routes; empty disables the check
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	SuspendGraceMs     int `yaml:"suspend_grace_ms" default:"2000" validate:"gte=0,lte=60000"`
	AdvanceDelayMs     int `yaml:"advance_delay_ms" default:"250" validate:"gte=0,lte=10000"`
	OpenTimeoutMs      int `yaml:"open_timeout_ms" default:"15000" validate:"gte=0,lte=120000"`
	ProgressIntervalMs int `yaml:"progress_interval_ms" default:"1000" validate:"gte=0,lte=60000"`
}

// SearchConfig represents search configuration.
type SearchConfig struct {
	PageSize  int `yaml:"page_size" default:"10" validate:"gte=1,lte=50"`
	TimeoutMs int `yaml:"timeout_ms" default:"10000" validate:"gte=0,lte=120000"`
}

// StoreConfig selects and configures the persisted entry store.
type StoreConfig struct {
	Driver   string         `yaml:"driver" default:"sqlite" validate:"oneof=sqlite redis memory"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages keyed by notification code.
type MessagesConfig struct {
	DefaultError          string `yaml:"default_error" default:"Something went wrong"`
	DuplicateEntry        string `yaml:"duplicate_entry" default:"This track is already in the playlist"`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"This track is too long or too short"`
	MarketRestriction     string `yaml:"market_restriction" default:"This track is not available in your market"`
	Resolution            string `yaml:"resolution" default:"Track not found"`
	Stream                string `yaml:"stream" default:"Error while trying to stream a track"`
	UnknownEntry          string `yaml:"unknown_entry" default:"No such entry in the playlist"`
	Persistence           string `yaml:"persistence" default:"Could not save the playlist"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID       string `yaml:"client_id" validate:"required"`
	ClientSecret   string `yaml:"client_secret" validate:"required"`
	RefreshToken   string `yaml:"refresh_token" validate:"required"`
	Market         string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
	DeviceID       string `yaml:"device_id"` // Spotify Connect device; empty uses the active device
	PollIntervalMs int    `yaml:"poll_interval_ms" default:"1000" validate:"gte=250,lte=10000"`
}

// NotificationConfig represents notification fan-out configuration.
type NotificationConfig struct {
	BufferSize int         `yaml:"buffer_size" default:"64" validate:"gte=1,lte=4096"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig configures publishing notifications on a Redis channel.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Channel  string `yaml:"channel" default:"cuelist:events" validate:"required_if=Enabled true"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("SPOTIFY_DEVICE_ID"); v != "" {
		c.Spotify.DeviceID = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Notification.Redis.Password = v
	}
	if v := os.Getenv("CUELIST_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "duplicate_entry":
		return c.Messages.DuplicateEntry
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "market_restriction":
		return c.Messages.MarketRestriction
	case "resolution":
		return c.Messages.Resolution
	case "stream":
		return c.Messages.Stream
	case "unknown_entry":
		return c.Messages.UnknownEntry
	case "persistence":
		return c.Messages.Persistence
	default:
		return c.Messages.DefaultError
	}
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// SuspendGrace returns the stall confirmation window.
func (p PlaybackConfig) SuspendGrace() time.Duration {
	return millis(p.SuspendGraceMs)
}

// AdvanceDelay returns the delay before chaining to the next entry.
func (p PlaybackConfig) AdvanceDelay() time.Duration {
	return millis(p.AdvanceDelayMs)
}

// OpenTimeout returns the stream open deadline.
func (p PlaybackConfig) OpenTimeout() time.Duration {
	return millis(p.OpenTimeoutMs)
}

// ProgressInterval returns the minimum gap between progress notifications.
func (p PlaybackConfig) ProgressInterval() time.Duration {
	return millis(p.ProgressIntervalMs)
}

// Timeout returns the provider search deadline.
func (s SearchConfig) Timeout() time.Duration {
	return millis(s.TimeoutMs)
}

// PollInterval returns the player state polling interval.
func (s SpotifyConfig) PollInterval() time.Duration {
	return millis(s.PollIntervalMs)
}

// String hides the secrets when the config is logged.
func (s SpotifyConfig) String() string {
	return "client_id=" + s.ClientID + " market=" + s.Market + " device_id=" + s.DeviceID +
		" poll_interval_ms=" + strconv.Itoa(s.PollIntervalMs)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
