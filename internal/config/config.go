// Package config loads host settings for the passvault binary.
//
// Settings are resolved in three layers: built-in defaults, an optional YAML
// file, then PASSVAULT_* environment variables. Genesis parameters such as
// the authority and fees are not host settings; they live in the deployment
// manifest (see package manifest).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable consulted when no --config path is given.
const EnvConfigPath = "PASSVAULT_CONFIG"

// Config holds host settings.
type Config struct {
	DBPath        string        `yaml:"db_path"        env:"PASSVAULT_DB_PATH"`
	LogLevel      string        `yaml:"log_level"      env:"PASSVAULT_LOG_LEVEL"`
	Origins       []string      `yaml:"origins"        env:"PASSVAULT_ORIGINS"        envSeparator:","`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"PASSVAULT_SWEEP_INTERVAL"`
	KeyCacheSize  int           `yaml:"key_cache_size" env:"PASSVAULT_KEY_CACHE_SIZE"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:        "passvault.db",
		LogLevel:      "info",
		Origins:       []string{"http://localhost:8080"},
		SweepInterval: 30 * time.Second,
		KeyCacheSize:  1024,
	}
}

// Load resolves settings from defaults, the YAML file at path (or at
// $PASSVAULT_CONFIG when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that settings are usable.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: db_path is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if len(c.Origins) == 0 {
		return errors.New("config: at least one origin is required")
	}
	for _, o := range c.Origins {
		if !strings.HasPrefix(o, "https://") && !strings.HasPrefix(o, "http://") {
			return fmt.Errorf("config: origin %q must be an http(s) URL", o)
		}
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: sweep_interval must be positive")
	}
	if c.KeyCacheSize <= 0 {
		return errors.New("config: key_cache_size must be positive")
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: unknown log_level %q", s)
	}
	return l, nil
}
