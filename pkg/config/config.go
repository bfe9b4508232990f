// Package config loads ledger server settings from the environment,
// optionally layered over a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/francescomaiomascio/yai/pkg/ids"
)

// Config holds server configuration. Fields are read from the YAML file
// first and then from the environment variable named in the env tag.
type Config struct {
	Port        string `yaml:"port" env:"PORT"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string `yaml:"sqlite_path" env:"YAI_SQLITE_PATH"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`

	TokenSecret     string `yaml:"token_secret" env:"YAI_TOKEN_SECRET"`
	GovernanceRunID string `yaml:"governance_run_id" env:"YAI_GOVERNANCE_RUN_ID"`

	RatePerMinute int `yaml:"rate_per_minute" env:"YAI_RATE_PER_MINUTE"`
	RateBurst     int `yaml:"rate_burst" env:"YAI_RATE_BURST"`

	TelemetryEnabled  bool   `yaml:"telemetry_enabled" env:"YAI_TELEMETRY_ENABLED"`
	TelemetryEndpoint string `yaml:"telemetry_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Environment       string `yaml:"environment" env:"YAI_ENVIRONMENT"`

	ArtifactsURL        string        `yaml:"artifacts_url" env:"YAI_ARTIFACTS_URL"`
	ArchiveSyncInterval time.Duration `yaml:"archive_sync_interval" env:"YAI_ARCHIVE_SYNC_INTERVAL"`
}

// Default returns the settings used when nothing is configured: lite mode
// (SQLite), in-process rate limiting, telemetry off.
func Default() *Config {
	return &Config{
		Port:                "8080",
		LogLevel:            "INFO",
		SQLitePath:          "data/yai.db",
		RatePerMinute:       600,
		RateBurst:           60,
		TelemetryEndpoint:   "localhost:4317",
		Environment:         "development",
		ArtifactsURL:        "data/exports",
		ArchiveSyncInterval: 2 * time.Second,
	}
}

// Load reads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML file over the defaults, then applies the environment.
// Environment variables win over file values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overwrites fields whose variable is set and non-empty.
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("config: port %q is not a number", c.Port))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.GovernanceRunID != "" && !ids.IsUUID(c.GovernanceRunID) {
		errs = append(errs, fmt.Errorf("config: governance_run_id %q is not a UUID", c.GovernanceRunID))
	}
	if c.RatePerMinute <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("config: rate limits must be positive"))
	}
	if c.ArchiveSyncInterval <= 0 {
		errs = append(errs, errors.New("config: archive_sync_interval must be positive"))
	}
	if c.TokenSecret != "" && len(c.TokenSecret) < 16 {
		errs = append(errs, errors.New("config: token_secret must be at least 16 bytes"))
	}
	return errors.Join(errs...)
}

// LiteMode reports whether the archive runs on SQLite.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
}
