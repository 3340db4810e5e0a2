package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 365, cfg.Server.MaxAsOfAgeDays)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 120, cfg.LLM.TimeoutSecs)
	assert.Equal(t, "sonar", cfg.Perplexity.Model)
	assert.Equal(t, 60, cfg.Perplexity.TimeoutSecs)
	assert.Equal(t, 3000, cfg.Perplexity.MaxChars)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, "Asia/Shanghai", cfg.Schedule.Timezone)
	assert.Equal(t, "01:00", cfg.Schedule.Cutoffs["drivers"])
	assert.Equal(t, "01:10", cfg.Schedule.Cutoffs["regime"])
	assert.Equal(t, "01:20", cfg.Schedule.Cutoffs["events"])
	assert.Equal(t, "06:00", cfg.Schedule.Cutoffs["snapshot"])
	assert.Equal(t, "05:30", cfg.Schedule.PriceSync)
	assert.Equal(t, 300, cfg.Cache.SnapshotCurrentTTLSecs)
	assert.Equal(t, 86400, cfg.Cache.SnapshotHistoricalTTLSecs)
	assert.Equal(t, 1800, cfg.Cache.AnalysisTTLSecs)
	assert.Equal(t, 120, cfg.Generation.TimeoutSecs)
	assert.Equal(t, 7, cfg.Generation.EventsLookback)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.InDelta(t, 0.5, cfg.Monitoring.DegradedThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: market.db
log:
  level: debug
  format: console
llm:
  provider: openrouter
schedule:
  timezone: America/New_York
  cutoffs:
    drivers: "02:30"
server:
  port: 9090
  cors_origins:
    - https://dash.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "market.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "openrouter", cfg.LLM.Provider)
	assert.Equal(t, "America/New_York", cfg.Schedule.Timezone)
	assert.Equal(t, "02:30", cfg.Schedule.Cutoffs["drivers"])
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.Server.CORSOrigins)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("MARKET_STORE_DRIVER", "postgres")
	t.Setenv("MARKET_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MARKET_SERVER_PORT", "3000")
	t.Setenv("MARKET_REDIS_ENABLED", "true")
	t.Setenv("MARKET_GENERATION_TIMEOUT_SECS", "45")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 45, cfg.Generation.TimeoutSecs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [:"), 0o644))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/market"
	cfg.LLM.Provider = "anthropic"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Schedule.Timezone = "Asia/Shanghai"
	cfg.Generation.TimeoutSecs = 120
	cfg.Server.Port = 8080
	cfg.Monitoring.DegradedThreshold = 0.5
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate("serve"), "server.port")
}

func TestValidateGenerate_MissingProviderKey(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.Provider = "openrouter"
	err := cfg.Validate("generate")
	assert.ErrorContains(t, err, "openrouter.key is required")
}

func TestValidateSync_SkipsLLM(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate("sync"))
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate("migrate"), "store.database_url")
}

func TestValidateSQLiteWithoutURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateBadTimezone(t *testing.T) {
	cfg := validDefaults()
	cfg.Schedule.Timezone = "Mars/Olympus"
	assert.ErrorContains(t, cfg.Validate("serve"), "schedule.timezone")
}

func TestValidateUnknownMode(t *testing.T) {
	assert.ErrorContains(t, validDefaults().Validate("bogus"), "unknown mode")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Anthropic.Key = ""
	cfg.Monitoring.DegradedThreshold = 2
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "anthropic.key")
	assert.Contains(t, err.Error(), "degraded_threshold")
}
