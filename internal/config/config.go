package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"synctray-agent/internal/logger"
	"synctray-agent/internal/syncthing"
)

// Config is the agent configuration. Durations are kept as strings so the
// file written by WriteDefault stays readable.
type Config struct {
	Syncthing   SyncthingConfig   `mapstructure:"syncthing" yaml:"syncthing"`
	LogLevel    string            `mapstructure:"log_level" yaml:"log_level"`
	StopTimeout string            `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	Connections ConnectionsConfig `mapstructure:"connections" yaml:"connections"`
	Events      EventsConfig      `mapstructure:"events" yaml:"events"`
	Control     ControlConfig     `mapstructure:"control" yaml:"control"`

	// Path is the file the config was read from, empty when none was found.
	Path string `mapstructure:"-" yaml:"-"`
	// APIKeyGenerated is set when no key was configured and Load made one up.
	APIKeyGenerated bool `mapstructure:"-" yaml:"-"`
}

type SyncthingConfig struct {
	Executable  string `mapstructure:"executable" yaml:"executable"`
	Address     string `mapstructure:"address" yaml:"address"`
	APIKey      string `mapstructure:"api_key" yaml:"api_key"`
	Traces      string `mapstructure:"traces" yaml:"traces"`
	CustomHome  string `mapstructure:"custom_home" yaml:"custom_home"`
	LowPriority bool   `mapstructure:"low_priority" yaml:"low_priority"`
	DenyUpgrade bool   `mapstructure:"deny_upgrade" yaml:"deny_upgrade"`
}

type ConnectionsConfig struct {
	PollInterval string `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type EventsConfig struct {
	PollTimeout string `mapstructure:"poll_timeout" yaml:"poll_timeout"`
}

// ControlConfig configures the local HTTP control surface and event feed.
type ControlConfig struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	Listen    string  `mapstructure:"listen" yaml:"listen"`
	JWTSecret string  `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Syncthing: SyncthingConfig{
			Executable: defaultExecutable(),
			Address:    "127.0.0.1:8384",
		},
		LogLevel:    "info",
		StopTimeout: "30s",
		Connections: ConnectionsConfig{PollInterval: "10s"},
		Events:      EventsConfig{PollTimeout: "60s"},
		Control: ControlConfig{
			Enabled:   true,
			Listen:    "127.0.0.1:8385",
			RateLimit: 10,
			RateBurst: 20,
		},
	}
}

// Load reads the configuration from configPath, or from the first config.yaml
// found in the platform search paths when configPath is empty. SYNCTRAY_*
// environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range getConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	v.SetEnvPrefix("SYNCTRAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Path = v.ConfigFileUsed()

	if config.Syncthing.APIKey == "" {
		config.Syncthing.APIKey = GenerateAPIKey()
		config.APIKeyGenerated = true
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// setDefaults registers every key so environment overrides work even when
// the file does not mention the key.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("syncthing.executable", d.Syncthing.Executable)
	v.SetDefault("syncthing.address", d.Syncthing.Address)
	v.SetDefault("syncthing.api_key", "")
	v.SetDefault("syncthing.traces", "")
	v.SetDefault("syncthing.custom_home", "")
	v.SetDefault("syncthing.low_priority", false)
	v.SetDefault("syncthing.deny_upgrade", false)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("stop_timeout", d.StopTimeout)
	v.SetDefault("connections.poll_interval", d.Connections.PollInterval)
	v.SetDefault("events.poll_timeout", d.Events.PollTimeout)

	v.SetDefault("control.enabled", d.Control.Enabled)
	v.SetDefault("control.listen", d.Control.Listen)
	v.SetDefault("control.jwt_secret", "")
	v.SetDefault("control.rate_limit", d.Control.RateLimit)
	v.SetDefault("control.rate_burst", d.Control.RateBurst)
}

func validate(config *Config) error {
	if config.Syncthing.Executable == "" {
		return fmt.Errorf("syncthing executable is required")
	}
	if config.Syncthing.Address == "" {
		return fmt.Errorf("syncthing address is required")
	}
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return err
	}

	durations := map[string]string{
		"stop_timeout":              config.StopTimeout,
		"connections.poll_interval": config.Connections.PollInterval,
		"events.poll_timeout":       config.Events.PollTimeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if config.Control.Enabled {
		if config.Control.Listen == "" {
			return fmt.Errorf("control listen address is required when control is enabled")
		}
		if config.Control.RateLimit < 0 {
			return fmt.Errorf("invalid control rate limit: %v", config.Control.RateLimit)
		}
		if config.Control.RateLimit > 0 && config.Control.RateBurst < 1 {
			return fmt.Errorf("control rate burst must be at least 1")
		}
		if config.Control.JWTSecret != "" && len(config.Control.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters long")
		}
	}
	return nil
}

// GenerateAPIKey returns a random key in the format Syncthing itself uses
// for its GUI API key.
func GenerateAPIKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Level returns the parsed log level. Load has already validated it.
func (c *Config) Level() logger.Level {
	l, _ := logger.ParseLevel(c.LogLevel)
	return l
}

func (c *Config) StopTimeoutDuration() time.Duration {
	return mustDuration(c.StopTimeout)
}

func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Connections.PollInterval)
}

func (c *Config) EventPollTimeout() time.Duration {
	return mustDuration(c.Events.PollTimeout)
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// LaunchOptions converts the syncthing section into what the process runner
// and API client need.
func (c *Config) LaunchOptions() syncthing.LaunchOptions {
	return syncthing.LaunchOptions{
		ExecutablePath: c.Syncthing.Executable,
		APIKey:         c.Syncthing.APIKey,
		Address:        c.Syncthing.Address,
		Traces:         c.Syncthing.Traces,
		CustomHome:     c.Syncthing.CustomHome,
		LowPriority:    c.Syncthing.LowPriority,
		DenyUpgrade:    c.Syncthing.DenyUpgrade,
	}
}

// DefaultPath is where "config init" writes when no path is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "synctray-agent", "config.yaml"), nil
}

// WriteDefault writes the default configuration, with a freshly generated
// API key, to path. An existing file is never overwritten.
func WriteDefault(path string) error {
	config := Default()
	config.Syncthing.APIKey = GenerateAPIKey()

	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
