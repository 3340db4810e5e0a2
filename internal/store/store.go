// Package store persists analysis records and daily price history.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sells-group/market-brief/internal/model"
)

// AnalysisStore is the durable tier for analysis artifacts. At most one
// record exists per key.
type AnalysisStore interface {
	// GetAnalysis returns the record for key, or nil with no error when absent.
	GetAnalysis(ctx context.Context, key model.AnalysisKey) (*model.Record, error)
	// UpsertAnalysis inserts or overwrites the record for key and returns it.
	UpsertAnalysis(ctx context.Context, key model.AnalysisKey, content json.RawMessage) (*model.Record, error)
}

// PriceStore holds daily OHLC history per market.
type PriceStore interface {
	// RecentPrices returns up to limit rows with trade_date <= end, oldest first.
	RecentPrices(ctx context.Context, market model.Market, end time.Time, limit int) ([]model.DailyPrice, error)
	// UpsertPrices writes rows keyed by (market, trade_date).
	UpsertPrices(ctx context.Context, prices []model.DailyPrice) (int64, error)
}

// Store is the full persistence interface.
type Store interface {
	AnalysisStore
	PriceStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// dedupePrices keeps the last row per (market, trade date), preserving the
// order of first appearance.
func dedupePrices(prices []model.DailyPrice) []model.DailyPrice {
	type key struct {
		market model.Market
		date   time.Time
	}
	idx := make(map[key]int, len(prices))
	out := make([]model.DailyPrice, 0, len(prices))
	for _, p := range prices {
		k := key{p.Market, model.Date(p.TradeDate)}
		if i, ok := idx[k]; ok {
			out[i] = p
			continue
		}
		idx[k] = len(out)
		out = append(out, p)
	}
	return out
}
