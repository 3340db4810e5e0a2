package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-brief/internal/cache"
	"github.com/sells-group/market-brief/internal/config"
	"github.com/sells-group/market-brief/internal/coordinator"
	"github.com/sells-group/market-brief/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "generate", "prices", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "market-brief", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("no-schedule")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestGenerateCommand_Flags(t *testing.T) {
	for name, def := range map[string]string{"market": "all", "type": "all", "date": ""} {
		flag := generateCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "generate should have --%s flag", name)
		assert.Equal(t, def, flag.DefValue)
	}
}

func TestPricesCommand_HasSync(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range pricesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["sync"])

	for _, name := range []string{"market", "days", "end"} {
		assert.NotNil(t, pricesSyncCmd.Flags().Lookup(name), "prices sync should have --%s flag", name)
	}
}

func TestParseMarkets(t *testing.T) {
	all, err := parseMarkets("ALL")
	require.NoError(t, err)
	assert.Equal(t, model.Markets(), all)

	one, err := parseMarkets("brent")
	require.NoError(t, err)
	assert.Equal(t, []model.Market{model.MarketBrent}, one)

	_, err = parseMarkets("gold")
	assert.ErrorIs(t, err, model.ErrInvalidMarket)
}

func TestParseTypes(t *testing.T) {
	all, err := parseTypes("all")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	one, err := parseTypes("Regime")
	require.NoError(t, err)
	assert.Equal(t, []model.AnalysisType{model.AnalysisRegime}, one)

	_, err = parseTypes("forecast")
	assert.ErrorIs(t, err, model.ErrInvalidAnalysisType)
}

func TestReportStatus(t *testing.T) {
	tests := []struct {
		name string
		rep  coordinator.Report
		want string
	}{
		{"ok", coordinator.Report{}, "ok"},
		{"shared", coordinator.Report{Shared: true}, "ok (shared)"},
		{"degraded", coordinator.Report{Degraded: true}, "degraded"},
		{"persist failure wins", coordinator.Report{Degraded: true, PersistErr: errors.New("db down")}, "persist_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reportStatus(tt.rep))
		})
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	key := model.NewKey(model.MarketWTI, model.AnalysisDrivers, time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC))
	printReport(&buf, key, "ok")
	assert.Contains(t, buf.String(), "drivers")
	assert.Contains(t, buf.String(), "WTI")
	assert.Contains(t, buf.String(), "2026-02-14")
}

func TestInitStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brief.db")
	st, err := initStore(context.Background(), config.StoreConfig{Driver: "sqlite", DatabaseURL: path})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, st.Ping(context.Background()))
}

func TestInitStore_UnknownDriver(t *testing.T) {
	_, err := initStore(context.Background(), config.StoreConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, "mysql")
}

func TestInitCache_Disabled(t *testing.T) {
	c, mem := initCache(context.Background(), config.RedisConfig{Enabled: false})
	require.NotNil(t, mem)
	assert.Same(t, mem, c)
}

func TestInitCache_UnreachableRedisFallsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, mem := initCache(ctx, config.RedisConfig{Enabled: true, URL: "redis://127.0.0.1:1/0"})
	require.NotNil(t, mem)
	assert.Same(t, mem, c)
}

func TestInitCompleter(t *testing.T) {
	c := &config.Config{
		LLM:       config.LLMConfig{Provider: "anthropic", TimeoutSecs: 10},
		Anthropic: config.AnthropicConfig{Key: "k", Model: "m", MaxTokens: 100},
	}
	breakers := initBreakers(config.ResilienceConfig{})
	completer, err := initCompleter(c, retryConfig(config.ResilienceConfig{}), breakers)
	require.NoError(t, err)
	assert.NotNil(t, completer)

	c.LLM.Provider = "openrouter"
	c.OpenRouter = config.OpenRouterConfig{Key: "k", Model: "m", BaseURL: "http://localhost"}
	completer, err = initCompleter(c, retryConfig(config.ResilienceConfig{}), breakers)
	require.NoError(t, err)
	assert.NotNil(t, completer)

	c.LLM.Provider = "local"
	_, err = initCompleter(c, retryConfig(config.ResilienceConfig{}), breakers)
	assert.ErrorContains(t, err, "local")
}

func TestInitSearcher_NoKey(t *testing.T) {
	s := initSearcher(config.PerplexityConfig{}, retryConfig(config.ResilienceConfig{}), initBreakers(config.ResilienceConfig{}))
	assert.Nil(t, s)
}

func TestInitSearcher_WithKey(t *testing.T) {
	s := initSearcher(config.PerplexityConfig{Key: "k", TimeoutSecs: 5, RatePerSec: 1, MaxChars: 100},
		retryConfig(config.ResilienceConfig{}), initBreakers(config.ResilienceConfig{}))
	assert.NotNil(t, s)
}

func TestInitBoundary(t *testing.T) {
	c := &config.Config{Schedule: config.ScheduleConfig{
		Timezone: "Asia/Shanghai",
		Cutoffs:  map[string]string{"drivers": "02:30"},
	}}
	b, err := initBoundary(c)
	require.NoError(t, err)
	assert.Equal(t, "02:30", b.Cutoff(model.AnalysisDrivers).String())
	assert.Equal(t, "06:00", b.Cutoff(model.AnalysisSnapshot).String())

	c.Schedule.Timezone = "Mars/Olympus"
	_, err = initBoundary(c)
	assert.Error(t, err)
}

func TestSweepLoop_RemovesExpiredAndStops(t *testing.T) {
	mem := cache.NewMemory()
	require.NoError(t, mem.Set(context.Background(), "k", []byte("v"), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepLoop(ctx, mem, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return mem.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweepLoop did not stop after cancel")
	}
}
