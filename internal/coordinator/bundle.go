package coordinator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/analysis"
	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/store"
)

const (
	// DefaultBundleSize is how many daily rows a bundle holds.
	DefaultBundleSize = 60
	// MinCloses is the history below which the loader backfills.
	MinCloses = 21
)

// BundleLoader assembles the read-only generation context for a key.
type BundleLoader interface {
	Load(ctx context.Context, market model.Market, date time.Time) (analysis.Bundle, error)
}

// Backfiller fetches and stores days of history ending at end.
type Backfiller interface {
	Sync(ctx context.Context, market model.Market, end time.Time, days int) (int, error)
}

// PriceLoader reads recent prices from the store and backfills from the
// quote source when the store holds too little history.
type PriceLoader struct {
	prices       store.PriceStore
	backfill     Backfiller
	size         int
	backfillDays int
}

// NewPriceLoader creates a loader. backfill may be nil.
func NewPriceLoader(prices store.PriceStore, backfill Backfiller, size, backfillDays int) *PriceLoader {
	if size < MinCloses {
		size = DefaultBundleSize
	}
	if backfillDays <= 0 {
		backfillDays = size
	}
	return &PriceLoader{prices: prices, backfill: backfill, size: size, backfillDays: backfillDays}
}

// Load returns up to size rows through date, oldest first. A failed
// backfill is logged and the rows already stored are used.
func (l *PriceLoader) Load(ctx context.Context, market model.Market, date time.Time) (analysis.Bundle, error) {
	date = model.Date(date)
	b := analysis.Bundle{Market: market, Date: date}

	prices, err := l.prices.RecentPrices(ctx, market, date, l.size)
	if err != nil {
		return b, eris.Wrapf(err, "coordinator: recent prices %s", market)
	}

	if len(prices) < MinCloses && l.backfill != nil {
		n, err := l.backfill.Sync(ctx, market, date, l.backfillDays)
		if err != nil {
			zap.L().Warn("coordinator: price backfill failed",
				zap.String("market", string(market)),
				zap.Time("date", date),
				zap.Int("have", len(prices)),
				zap.Error(err),
			)
		} else if n > 0 {
			if again, err := l.prices.RecentPrices(ctx, market, date, l.size); err == nil {
				prices = again
			} else {
				zap.L().Warn("coordinator: re-read prices after backfill failed", zap.Error(err))
			}
		}
	}

	b.Prices = prices
	return b, nil
}
