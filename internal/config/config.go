// Package config loads the rla-replay configuration.
//
// Values come from three places, later ones winning:
//   - built-in defaults (Default);
//   - a YAML file, when a path is given;
//   - RLA_* environment variables.
//
// Unknown YAML keys are rejected so typos surface instead of silently
// falling back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full replay tool configuration.
type Config struct {
	// Actor is the dashboard kind replayed: County or DOS.
	Actor string `yaml:"actor"`

	// SessionID fixes the checkpoint key. Empty generates a fresh id.
	SessionID string `yaml:"session_id"`

	Poll      PollConfig      `yaml:"poll"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Redis     RedisConfig     `yaml:"redis"`
	Activity  ActivityConfig  `yaml:"activity"`
	Log       LogConfig       `yaml:"log"`
}

// PollConfig controls how snapshots are fetched.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

// EvaluatorConfig selects the rule engine: expr, cel or js.
type EvaluatorConfig struct {
	Engine string `yaml:"engine"`
}

// RedisConfig enables Redis checkpoints when URL is set.
type RedisConfig struct {
	URL    string        `yaml:"url"`
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

type ActivityConfig struct {
	Channel string `yaml:"channel"`
}

// LogConfig configures the slog handler.
// Level is one of debug, info, warn, error; Format is text or json.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Actor: "County",
		Poll: PollConfig{
			Interval:    5 * time.Second,
			MaxInFlight: 2,
		},
		Evaluator: EvaluatorConfig{Engine: "expr"},
		Redis:     RedisConfig{Prefix: "rla:checkpoint:"},
		Activity:  ActivityConfig{Channel: "rla"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional) and the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if lookup != nil {
		if err := applyEnv(&cfg, lookup); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(name string, dst *string) {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		value, ok := lookup(name)
		if !ok || strings.TrimSpace(value) == "" {
			return nil
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = parsed
		return nil
	}

	str("RLA_ACTOR", &cfg.Actor)
	str("RLA_SESSION_ID", &cfg.SessionID)
	str("RLA_EVALUATOR", &cfg.Evaluator.Engine)
	str("RLA_REDIS_URL", &cfg.Redis.URL)
	str("RLA_REDIS_PREFIX", &cfg.Redis.Prefix)
	str("RLA_ACTIVITY_CHANNEL", &cfg.Activity.Channel)
	str("RLA_LOG_LEVEL", &cfg.Log.Level)
	str("RLA_LOG_FORMAT", &cfg.Log.Format)
	if err := dur("RLA_POLL_INTERVAL", &cfg.Poll.Interval); err != nil {
		return err
	}
	if err := dur("RLA_REDIS_TTL", &cfg.Redis.TTL); err != nil {
		return err
	}
	if value, ok := lookup("RLA_MAX_IN_FLIGHT"); ok && strings.TrimSpace(value) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: RLA_MAX_IN_FLIGHT: %w", err)
		}
		cfg.Poll.MaxInFlight = n
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	switch c.Actor {
	case "County", "DOS":
	default:
		errs = append(errs, fmt.Errorf("actor must be County or DOS, got %q", c.Actor))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if c.Poll.MaxInFlight < 1 {
		errs = append(errs, fmt.Errorf("poll.max_in_flight must be at least 1, got %d", c.Poll.MaxInFlight))
	}
	switch c.Evaluator.Engine {
	case "expr", "cel", "js":
	default:
		errs = append(errs, fmt.Errorf("evaluator.engine must be expr, cel or js, got %q", c.Evaluator.Engine))
	}
	if c.Redis.TTL < 0 {
		errs = append(errs, fmt.Errorf("redis.ttl must not be negative, got %s", c.Redis.TTL))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
