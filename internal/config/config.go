// Package config provides configuration management for the popularity worker.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/lesson-popularity/pkg/models"
)

const (
	// DefaultHTTPPort is the default HTTP port for the worker service.
	DefaultHTTPPort = 8089

	// DefaultScheduleTime is the local time of day the ranking job fires.
	DefaultScheduleTime = "01:00"

	// DefaultTimezone is the zone DefaultScheduleTime is interpreted in.
	DefaultTimezone = "Asia/Seoul"

	// DefaultConfigPath is read when POPULARITY_CONFIG is unset.
	DefaultConfigPath = "config.yaml"

	envPrefix = "POPULARITY_"
)

// Config holds the application configuration.
type Config struct {
	// Scoring policy
	Scoring *models.PopularityConfig `yaml:"scoring" json:"scoring"`

	// Database settings
	DatabaseDSN string `yaml:"database_dsn" json:"-"`
	DBLogLevel  string `yaml:"db_log_level" json:"db_log_level"` // silent, error, warn, info

	// Logging
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"` // console or json

	// Schedule
	ScheduleTime string `yaml:"schedule_time" json:"schedule_time"` // HH:MM
	Timezone     string `yaml:"timezone" json:"timezone"`

	PhaseTimeout     time.Duration `yaml:"phase_timeout" json:"phase_timeout"`
	HTTPPort         int           `yaml:"http_port" json:"http_port"`
	MaxConns         int           `yaml:"max_conns" json:"max_conns"`
	StagingBatchSize int           `yaml:"staging_batch_size" json:"staging_batch_size"`
	RunOnStartup     bool          `yaml:"run_on_startup" json:"run_on_startup"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		HTTPPort:         DefaultHTTPPort,
		MaxConns:         10,
		DBLogLevel:       "warn",
		LogLevel:         "info",
		LogFormat:        "console",
		ScheduleTime:     DefaultScheduleTime,
		Timezone:         DefaultTimezone,
		RunOnStartup:     false,
		PhaseTimeout:     5 * time.Minute,
		StagingBatchSize: 500,
		Scoring:          models.DefaultPopularityConfig(),
	}
}

// Path returns the config file path from POPULARITY_CONFIG or the default.
func Path() string {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load loads configuration from a YAML file, merging with defaults,
// then applies POPULARITY_* environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// An empty scoring block in the file must not leave the policy nil
	if cfg.Scoring == nil {
		cfg.Scoring = models.DefaultPopularityConfig()
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envPrefix + "DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv(envPrefix + "HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHTTP_PORT: %w", envPrefix, err)
		}
		c.HTTPPort = p
	}
	if v := os.Getenv(envPrefix + "SCHEDULE_TIME"); v != "" {
		c.ScheduleTime = v
	}
	if v := os.Getenv(envPrefix + "TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv(envPrefix + "RUN_ON_STARTUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sRUN_ON_STARTUP: %w", envPrefix, err)
		}
		c.RunOnStartup = b
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks the configuration for values the worker cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("database_dsn is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", c.HTTPPort)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive, got %d", c.MaxConns)
	}
	if c.PhaseTimeout <= 0 {
		return fmt.Errorf("phase_timeout must be positive, got %s", c.PhaseTimeout)
	}
	if c.StagingBatchSize <= 0 {
		return fmt.Errorf("staging_batch_size must be positive, got %d", c.StagingBatchSize)
	}
	if _, _, err := ParseScheduleTime(c.ScheduleTime); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	return nil
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseScheduleTime parses an "HH:MM" 24-hour time of day.
func ParseScheduleTime(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schedule_time %q: expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("schedule_time %q: invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule_time %q: invalid minute", s)
	}
	return hour, minute, nil
}
