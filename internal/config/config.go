// Package config loads recon.yaml and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level recon.yaml configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Log      LogConfig     `yaml:"log"`
	Database DBConfig      `yaml:"database"`
	Matcher  MatcherConfig `yaml:"matcher"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// DBConfig selects the storage backend. An empty URL selects the in-memory
// store with dev seed data.
type DBConfig struct {
	URL string `yaml:"url"`
}

// MatcherConfig tunes candidate matching defaults.
type MatcherConfig struct {
	WindowDays     int   `yaml:"window_days"`
	ToleranceMinor int64 `yaml:"tolerance_minor"`
}

// Default returns the config used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Matcher: MatcherConfig{WindowDays: 7, ToleranceMinor: 1},
	}
}

// Load reads a recon.yaml file from disk and applies env overrides on top.
// A missing file is not an error; defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()
	if cfg.Matcher.WindowDays <= 0 {
		cfg.Matcher.WindowDays = 7
	}
	if cfg.Matcher.ToleranceMinor <= 0 {
		cfg.Matcher.ToleranceMinor = 1
	}
	return cfg, nil
}

// applyEnv overlays the environment variables used in deployment.
func (c *Config) applyEnv() {
	if v := os.Getenv("ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("MATCH_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Matcher.WindowDays = n
		}
	}
}
