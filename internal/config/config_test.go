package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, "01:00", cfg.ScheduleTime)
	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
	assert.False(t, cfg.RunOnStartup)
	assert.Equal(t, 5*time.Minute, cfg.PhaseTimeout)
	assert.Equal(t, 500, cfg.StagingBatchSize)
	require.NotNil(t, cfg.Scoring)
	assert.Equal(t, 7, cfg.Scoring.RecentWindowDays)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default().ScheduleTime, cfg.ScheduleTime)
	assert.Equal(t, Default().HTTPPort, cfg.HTTPPort)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http_port: 9000
database_dsn: postgres://u:p@localhost/db
schedule_time: "03:30"
timezone: UTC
run_on_startup: true
phase_timeout: 90s
scoring:
  bayesian_prior: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.DatabaseDSN)
	assert.Equal(t, "03:30", cfg.ScheduleTime)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.True(t, cfg.RunOnStartup)
	assert.Equal(t, 90*time.Second, cfg.PhaseTimeout)
	assert.Equal(t, 10.0, cfg.Scoring.BayesianPrior)
	assert.Equal(t, 0.6, cfg.Scoring.RecentDemandWeight, "unset scoring fields keep defaults")
	assert.Equal(t, 500, cfg.StagingBatchSize)
}

func TestLoad_NullScoringFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "scoring: null\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Scoring)
	assert.Equal(t, 5.0, cfg.Scoring.BayesianPrior)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "http_port: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POPULARITY_DATABASE_DSN", "postgres://env/db")
	t.Setenv("POPULARITY_HTTP_PORT", "7070")
	t.Setenv("POPULARITY_SCHEDULE_TIME", "02:15")
	t.Setenv("POPULARITY_TIMEZONE", "Europe/Berlin")
	t.Setenv("POPULARITY_RUN_ON_STARTUP", "true")
	t.Setenv("POPULARITY_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "http_port: 9000\ndatabase_dsn: postgres://file/db\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.DatabaseDSN)
	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, "02:15", cfg.ScheduleTime)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.True(t, cfg.RunOnStartup)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_BadEnvValues(t *testing.T) {
	t.Run("port", func(t *testing.T) {
		t.Setenv("POPULARITY_HTTP_PORT", "not-a-port")
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
	t.Run("run on startup", func(t *testing.T) {
		t.Setenv("POPULARITY_RUN_ON_STARTUP", "sometimes")
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestPath(t *testing.T) {
	t.Setenv("POPULARITY_CONFIG", "")
	assert.Equal(t, DefaultConfigPath, Path())

	t.Setenv("POPULARITY_CONFIG", "/etc/popularity.yaml")
	assert.Equal(t, "/etc/popularity.yaml", Path())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.DatabaseDSN = "postgres://localhost/db"
		cfg.Timezone = "UTC"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing dsn", mutate: func(c *Config) { c.DatabaseDSN = "" }},
		{name: "port zero", mutate: func(c *Config) { c.HTTPPort = 0 }},
		{name: "port too high", mutate: func(c *Config) { c.HTTPPort = 70000 }},
		{name: "no conns", mutate: func(c *Config) { c.MaxConns = 0 }},
		{name: "no phase timeout", mutate: func(c *Config) { c.PhaseTimeout = 0 }},
		{name: "no batch size", mutate: func(c *Config) { c.StagingBatchSize = 0 }},
		{name: "bad schedule", mutate: func(c *Config) { c.ScheduleTime = "25:00" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
		{name: "bad weights", mutate: func(c *Config) { c.Scoring.RatingWeight = 0.9 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseScheduleTime(t *testing.T) {
	h, m, err := ParseScheduleTime("01:00")
	require.NoError(t, err)
	assert.Equal(t, 1, h)
	assert.Equal(t, 0, m)

	h, m, err = ParseScheduleTime(" 23:59 ")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 59, m)

	for _, bad := range []string{"", "1", "24:00", "12:60", "ab:cd", "1:2:3", "-1:30"} {
		_, _, err := ParseScheduleTime(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	cfg.Timezone = "UTC"
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())
}
