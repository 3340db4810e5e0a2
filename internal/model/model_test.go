package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Market
		wantErr bool
	}{
		{"WTI", MarketWTI, false},
		{"wti", MarketWTI, false},
		{" Brent ", MarketBrent, false},
		{"BRENT", MarketBrent, false},
		{"Dubai", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMarket(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidMarket))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarketCatalog(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Market{MarketWTI, MarketBrent}, Markets())
	assert.Equal(t, "CL=F", MarketWTI.Info().Ticker)
	assert.Equal(t, "BZ=F", MarketBrent.Info().Ticker)
	assert.True(t, MarketBrent.Valid())
	assert.False(t, Market("Urals").Valid())
}

func TestLoadCatalog_Errors(t *testing.T) {
	t.Parallel()

	_, err := loadCatalog([]byte("markets: []"))
	assert.ErrorContains(t, err, "empty")

	_, err = loadCatalog([]byte("markets:\n  - symbol: WTI\n"))
	assert.ErrorContains(t, err, "missing symbol or ticker")

	_, err = loadCatalog([]byte("markets: [:"))
	assert.ErrorContains(t, err, "decode market catalog")
}

func TestParseAnalysisType(t *testing.T) {
	t.Parallel()

	got, err := ParseAnalysisType("Drivers")
	require.NoError(t, err)
	assert.Equal(t, AnalysisDrivers, got)

	_, err = ParseAnalysisType("sentiment")
	assert.True(t, errors.Is(err, ErrInvalidAnalysisType))
}

func TestAnalysisKey_CacheKey(t *testing.T) {
	t.Parallel()

	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	key := NewKey(MarketWTI, AnalysisRegime, time.Date(2026, 2, 15, 23, 30, 0, 0, shanghai))
	assert.Equal(t, "regime:WTI:2026-02-15", key.CacheKey())
	assert.Equal(t, time.UTC, key.Date.Location())

	other := NewKey(MarketWTI, AnalysisRegime, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, key, other)
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2026-02-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("14/02/2026")
	assert.Error(t, err)
}

func TestEnumValidity(t *testing.T) {
	t.Parallel()

	assert.True(t, CategoryMacroFinancial.Valid())
	assert.False(t, FactorCategory("WEATHER").Valid())
	assert.True(t, DirectionNeutral.Valid())
	assert.False(t, Direction("SIDEWAYS").Valid())
	assert.True(t, EventGeopolitics.Valid())
	assert.False(t, EventType("RUMOR").Valid())
	assert.True(t, ImpactUncertain.Valid())
	assert.False(t, Impact("MIXED").Valid())
	assert.True(t, RegimeFinancialDriven.Valid())
	assert.False(t, Regime("UNKNOWN").Valid())
	assert.True(t, StabilityLow.Valid())
	assert.False(t, Stability("VERY_HIGH").Valid())
}

func TestEventTimeline_Within(t *testing.T) {
	t.Parallel()

	day := func(d int) time.Time { return time.Date(2026, 2, d, 0, 0, 0, 0, time.UTC) }
	tl := EventTimeline{
		Market:     MarketBrent,
		WindowDays: 7,
		Events: []EventCard{
			{EventID: "a", Ts: day(3)},
			{EventID: "b", Ts: day(10)},
			{EventID: "c", Ts: day(12)},
		},
	}

	got := tl.Within(day(10), 3)
	assert.Equal(t, 3, got.WindowDays)
	require.Len(t, got.Events, 2)
	assert.Equal(t, "b", got.Events[0].EventID)
	assert.Len(t, tl.Events, 3, "receiver untouched")
}

func TestCloses_Points(t *testing.T) {
	t.Parallel()

	prices := []DailyPrice{
		{Market: MarketWTI, TradeDate: time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC), Close: 71.2},
		{Market: MarketWTI, TradeDate: time.Date(2026, 2, 13, 15, 0, 0, 0, time.UTC), Close: 72.4},
	}
	assert.Equal(t, []float64{71.2, 72.4}, Closes(prices))

	pts := Points(prices)
	require.Len(t, pts, 2)
	assert.Equal(t, time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC), pts[1].Ts)
	assert.Equal(t, 72.4, pts[1].Value)
}
