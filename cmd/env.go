package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/analysis"
	"github.com/sells-group/market-brief/internal/cache"
	"github.com/sells-group/market-brief/internal/clock"
	"github.com/sells-group/market-brief/internal/config"
	"github.com/sells-group/market-brief/internal/coordinator"
	"github.com/sells-group/market-brief/internal/db"
	"github.com/sells-group/market-brief/internal/pricesync"
	"github.com/sells-group/market-brief/internal/resilience"
	"github.com/sells-group/market-brief/internal/store"
	anthropicpkg "github.com/sells-group/market-brief/pkg/anthropic"
	"github.com/sells-group/market-brief/pkg/openrouter"
	"github.com/sells-group/market-brief/pkg/perplexity"
	"github.com/sells-group/market-brief/pkg/yahoo"
)

const defaultSQLitePath = "market-brief.db"

// appEnv holds the initialized components shared by serve and generate.
type appEnv struct {
	Store    store.Store
	Cache    cache.Store
	Memory   *cache.MemoryStore // set when the cache is in-process
	Boundary *clock.Boundary
	Breakers *resilience.Breakers
	Syncer   *pricesync.Syncer
	Service  *coordinator.Service
}

// Close releases the cache and store.
func (e *appEnv) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initEnv validates config for mode and wires every tier of the service.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	b, err := initBoundary(cfg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st, Boundary: b}
	env.Cache, env.Memory = initCache(ctx, cfg.Redis)

	env.Breakers = initBreakers(cfg.Resilience)
	retry := retryConfig(cfg.Resilience)

	completer, err := initCompleter(cfg, retry, env.Breakers)
	if err != nil {
		env.Close()
		return nil, err
	}
	searcher := initSearcher(cfg.Perplexity, retry, env.Breakers)

	env.Syncer = pricesync.New(initQuotes(cfg.Yahoo, retry, env.Breakers), st)
	loader := coordinator.NewPriceLoader(st, env.Syncer, coordinator.DefaultBundleSize, cfg.Generation.BackfillDays)

	gens := coordinator.Generators{
		Snapshot: analysis.NewSnapshotGenerator(cfg.Generation.HistoryWindow),
		Drivers:  analysis.NewDriversGenerator(searcher, completer),
		Events:   analysis.NewEventsGenerator(searcher, completer, cfg.Generation.EventsLookback),
		Regime:   analysis.NewRegimeGenerator(searcher, completer),
	}

	env.Service = coordinator.NewService(b, env.Cache, st, gens, loader, coordinator.ServiceConfig{
		SnapshotCurrentTTL:    secs(cfg.Cache.SnapshotCurrentTTLSecs),
		SnapshotHistoricalTTL: secs(cfg.Cache.SnapshotHistoricalTTLSecs),
		AnalysisTTL:           secs(cfg.Cache.AnalysisTTLSecs),
		Timeout:               secs(cfg.Generation.TimeoutSecs),
	})

	zap.L().Info("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", env.Memory == nil),
		zap.String("llm", cfg.LLM.Provider),
		zap.Bool("search", searcher != nil),
		zap.String("timezone", b.Location().String()),
	)
	return env, nil
}

func initBoundary(c *config.Config) (*clock.Boundary, error) {
	loc, err := c.Schedule.Location()
	if err != nil {
		return nil, err
	}
	b, err := clock.NewBoundary(loc, c.Schedule.Cutoffs)
	if err != nil {
		return nil, eris.Wrap(err, "init boundary")
	}
	return b, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, sc.DatabaseURL, db.PoolOptions{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver %q", sc.Driver)
	}
}

// initCache connects to Redis when enabled and falls back to an in-process
// cache when it is disabled or unreachable.
func initCache(ctx context.Context, rc config.RedisConfig) (cache.Store, *cache.MemoryStore) {
	if rc.Enabled {
		rs, err := cache.Connect(ctx, rc.URL)
		if err == nil {
			return rs, nil
		}
		zap.L().Warn("redis unavailable, using in-process cache", zap.Error(err))
	}
	mem := cache.NewMemory()
	return mem, mem
}

func initBreakers(rc config.ResilienceConfig) *resilience.Breakers {
	cbCfg := resilience.NewCircuitBreakerConfig(rc.FailureThreshold, rc.ResetTimeoutSecs)
	return resilience.NewBreakers(cbCfg)
}

func retryConfig(rc config.ResilienceConfig) resilience.RetryConfig {
	return resilience.NewRetryConfig(rc.MaxAttempts, rc.InitialBackoffMs, rc.MaxBackoffMs, rc.Multiplier, rc.JitterFraction)
}

func initCompleter(c *config.Config, retry resilience.RetryConfig, breakers *resilience.Breakers) (analysis.Completer, error) {
	var completer analysis.Completer
	switch c.LLM.Provider {
	case "anthropic":
		client := anthropicpkg.NewClient(c.Anthropic.Key)
		completer = anthropicpkg.NewCompleter(client, c.Anthropic.Model, c.Anthropic.MaxTokens, c.LLM.Temperature)
	case "openrouter":
		completer = openrouter.NewCompleter(c.OpenRouter.Key, c.OpenRouter.Model,
			openrouter.WithBaseURL(c.OpenRouter.BaseURL),
			openrouter.WithTemperature(c.LLM.Temperature),
			openrouter.WithMaxTokens(c.Anthropic.MaxTokens),
		)
	default:
		return nil, eris.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	policy := resilience.NewPolicy(c.LLM.Provider, retry, breakers)
	return analysis.GuardCompleter(completer, policy, secs(c.LLM.TimeoutSecs)), nil
}

// initSearcher returns nil when no Perplexity key is configured; the LLM
// generators then run without a news digest.
func initSearcher(pc config.PerplexityConfig, retry resilience.RetryConfig, breakers *resilience.Breakers) analysis.Searcher {
	if pc.Key == "" {
		zap.L().Warn("perplexity key not set, news search disabled")
		return nil
	}
	client := perplexity.NewClient(pc.Key,
		perplexity.WithBaseURL(pc.BaseURL),
		perplexity.WithModel(pc.Model),
		perplexity.WithHTTPClient(&http.Client{Timeout: secs(pc.TimeoutSecs)}),
		perplexity.WithRateLimit(pc.RatePerSec, 1),
		perplexity.WithPolicy(resilience.NewPolicy("perplexity", retry, breakers)),
	)
	return analysis.TimeoutSearcher(perplexity.NewSearcher(client, pc.MaxChars), secs(pc.TimeoutSecs))
}

func initQuotes(yc config.YahooConfig, retry resilience.RetryConfig, breakers *resilience.Breakers) yahoo.Client {
	return yahoo.NewClient(
		yahoo.WithBaseURL(yc.BaseURL),
		yahoo.WithHTTPClient(&http.Client{Timeout: secs(yc.TimeoutSecs)}),
		yahoo.WithRateLimit(yc.RatePerSec),
		yahoo.WithPolicy(resilience.NewPolicy("yahoo", retry, breakers)),
	)
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
