package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Yahoo      YahooConfig      `yaml:"yahoo" mapstructure:"yahoo"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the cache tier. When Enabled is false an
// in-process cache is used instead.
type RedisConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OpenRouterConfig holds OpenRouter (OpenAI-compatible) API settings.
type OpenRouterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// PerplexityConfig holds Perplexity search settings.
type PerplexityConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxChars    int     `yaml:"max_chars" mapstructure:"max_chars"`
}

// YahooConfig configures the daily quote source.
type YahooConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ScheduleConfig configures trading-day cutoffs and daily jobs. Times are
// HH:MM in Timezone.
type ScheduleConfig struct {
	Enabled   bool              `yaml:"enabled" mapstructure:"enabled"`
	Timezone  string            `yaml:"timezone" mapstructure:"timezone"`
	Cutoffs   map[string]string `yaml:"cutoffs" mapstructure:"cutoffs"`
	PriceSync string            `yaml:"price_sync" mapstructure:"price_sync"`
	SyncDays  int               `yaml:"sync_days" mapstructure:"sync_days"`
}

// Location resolves Timezone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", s.Timezone)
	}
	return loc, nil
}

// CacheConfig holds cache TTLs in seconds.
type CacheConfig struct {
	SnapshotCurrentTTLSecs    int `yaml:"snapshot_current_ttl_secs" mapstructure:"snapshot_current_ttl_secs"`
	SnapshotHistoricalTTLSecs int `yaml:"snapshot_historical_ttl_secs" mapstructure:"snapshot_historical_ttl_secs"`
	AnalysisTTLSecs           int `yaml:"analysis_ttl_secs" mapstructure:"analysis_ttl_secs"`
}

// GenerationConfig bounds detached generation work.
type GenerationConfig struct {
	TimeoutSecs    int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HistoryWindow  int `yaml:"history_window" mapstructure:"history_window"`
	BackfillDays   int `yaml:"backfill_days" mapstructure:"backfill_days"`
	EventsLookback int `yaml:"events_lookback_days" mapstructure:"events_lookback_days"`
}

// ResilienceConfig configures retry and circuit breaker behavior for
// upstream calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// MaxAsOfAgeDays is how far back an explicit asOf may reach.
	MaxAsOfAgeDays int `yaml:"max_asof_age_days" mapstructure:"max_asof_age_days"`
}

// MonitoringConfig configures outcome alerting.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	DegradedThreshold float64 `yaml:"degraded_threshold" mapstructure:"degraded_threshold"`
	MinSamples        int     `yaml:"min_samples" mapstructure:"min_samples"`
	IntervalSecs      int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	CooldownSecs      int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "anthropic/claude-sonnet-4.5")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("perplexity.timeout_secs", 60)
	v.SetDefault("perplexity.rate_per_sec", 1.0)
	v.SetDefault("perplexity.max_chars", 3000)
	v.SetDefault("yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("yahoo.rate_per_sec", 2.0)
	v.SetDefault("yahoo.timeout_secs", 30)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.timezone", "Asia/Shanghai")
	v.SetDefault("schedule.cutoffs", map[string]string{
		"snapshot": "06:00",
		"drivers":  "01:00",
		"regime":   "01:10",
		"events":   "01:20",
	})
	v.SetDefault("schedule.price_sync", "05:30")
	v.SetDefault("schedule.sync_days", 60)
	v.SetDefault("cache.snapshot_current_ttl_secs", 300)
	v.SetDefault("cache.snapshot_historical_ttl_secs", 86400)
	v.SetDefault("cache.analysis_ttl_secs", 1800)
	v.SetDefault("generation.timeout_secs", 120)
	v.SetDefault("generation.history_window", 30)
	v.SetDefault("generation.backfill_days", 60)
	v.SetDefault("generation.events_lookback_days", 7)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_asof_age_days", 365)
	v.SetDefault("monitoring.degraded_threshold", 0.5)
	v.SetDefault("monitoring.min_samples", 4)
	v.SetDefault("monitoring.interval_secs", 300)
	v.SetDefault("monitoring.cooldown_secs", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs before it starts.
// Modes: "serve", "generate", "sync", "migrate".
func (c *Config) Validate(mode string) error {
	switch mode {
	case "serve", "generate", "sync", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, "schedule.timezone is invalid")
	}

	if mode == "serve" || mode == "generate" {
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "openrouter":
			if c.OpenRouter.Key == "" {
				errs = append(errs, "openrouter.key is required")
			}
		default:
			errs = append(errs, "llm.provider must be anthropic or openrouter")
		}
		if c.Generation.TimeoutSecs <= 0 {
			errs = append(errs, "generation.timeout_secs must be positive")
		}
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Monitoring.DegradedThreshold < 0 || c.Monitoring.DegradedThreshold > 1 {
		errs = append(errs, "monitoring.degraded_threshold must be in [0,1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
