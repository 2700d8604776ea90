// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/osa030/groovebox/internal/app/playback"
	"github.com/osa030/groovebox/internal/app/voice"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Playback PlaybackConfig `yaml:"playback"`
	Voice    VoiceConfig    `yaml:"voice"`
	Resolver ResolverConfig `yaml:"resolver"`
	Log      LogConfig      `yaml:"log"`
}

// DiscordConfig represents gateway credentials.
type DiscordConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// PlaybackConfig represents per-guild playback behaviour.
type PlaybackConfig struct {
	QueueCap          int  `yaml:"queue_cap" default:"500" validate:"gte=1"`
	DefaultVolume     int  `yaml:"default_volume" default:"100" validate:"gte=0,lte=100"`
	IdleTimeoutSec    int  `yaml:"idle_timeout_sec" default:"300" validate:"gte=0"`
	PauseCountsAsIdle bool `yaml:"pause_counts_as_idle"`
	PlayRatePerMinute int  `yaml:"play_rate_per_minute" default:"10" validate:"gte=1"`
}

// VoiceConfig represents the transport connection retry policy.
type VoiceConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" default:"2000" validate:"gte=0"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" default:"2.0" validate:"gte=1"`
	AttemptTimeoutSec int     `yaml:"attempt_timeout_sec" default:"20" validate:"gte=1"`
}

// ResolverConfig represents the track resolver and its free-form settings.
type ResolverConfig struct {
	Type     string         `yaml:"type" default:"ytdlp"`
	Settings map[string]any `yaml:"settings"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
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

// SessionConfig builds the playback session configuration.
func (c *Config) SessionConfig() playback.Config {
	return playback.Config{
		QueueCap:          c.Playback.QueueCap,
		DefaultVolume:     c.Playback.DefaultVolume,
		IdleTimeout:       time.Duration(c.Playback.IdleTimeoutSec) * time.Second,
		PauseCountsAsIdle: c.Playback.PauseCountsAsIdle,
		Retry:             c.RetryPolicy(),
	}
}

// RetryPolicy builds the voice connection retry policy.
func (c *Config) RetryPolicy() voice.RetryPolicy {
	return voice.RetryPolicy{
		MaxAttempts:       c.Voice.MaxAttempts,
		InitialBackoff:    time.Duration(c.Voice.InitialBackoffMs) * time.Millisecond,
		BackoffMultiplier: c.Voice.BackoffMultiplier,
		AttemptTimeout:    time.Duration(c.Voice.AttemptTimeoutSec) * time.Second,
	}
}

// DecodeResolverSettings decodes the free-form resolver settings map into a
// typed settings struct, applying defaults and validation.
func (c *Config) DecodeResolverSettings(result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  result,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(c.Resolver.Settings); err != nil {
		return errors.Wrap(err, "failed to decode resolver settings")
	}
	if err := defaults.Set(result); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	validate := validator.New()
	if err := validate.Struct(result); err != nil {
		return errors.Wrap(err, "resolver settings validation failed")
	}
	return nil
}
