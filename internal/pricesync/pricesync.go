// Package pricesync copies daily bars from the quote source into the price
// store.
package pricesync

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/store"
	"github.com/sells-group/market-brief/pkg/yahoo"
)

// DefaultDays is the sync window when none is given.
const DefaultDays = 60

// Syncer fetches bars for a market and upserts them.
type Syncer struct {
	quotes yahoo.Client
	prices store.PriceStore
}

// New creates a Syncer.
func New(quotes yahoo.Client, prices store.PriceStore) *Syncer {
	return &Syncer{quotes: quotes, prices: prices}
}

// Sync fetches the days calendar days ending at end and upserts them.
// Rows already stored for a date are overwritten. It returns the number of
// bars written.
func (s *Syncer) Sync(ctx context.Context, market model.Market, end time.Time, days int) (int, error) {
	if days <= 0 {
		days = DefaultDays
	}
	info := market.Info()
	end = model.Date(end)
	start := end.AddDate(0, 0, -days)
	log := zap.L().With(
		zap.String("component", "pricesync"),
		zap.String("market", string(market)),
		zap.String("ticker", info.Ticker),
	)

	bars, err := s.quotes.DailyBars(ctx, info.Ticker, start, end)
	if err != nil {
		return 0, eris.Wrapf(err, "pricesync: fetch %s", market)
	}
	if len(bars) == 0 {
		log.Warn("no bars returned", zap.Time("start", start), zap.Time("end", end))
		return 0, nil
	}

	rows := make([]model.DailyPrice, len(bars))
	for i, b := range bars {
		rows[i] = toDailyPrice(market, b)
	}

	n, err := s.prices.UpsertPrices(ctx, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "pricesync: upsert %s", market)
	}
	log.Info("prices synced",
		zap.Int("bars", len(bars)),
		zap.Int64("upserted", n),
		zap.Time("first", bars[0].Date),
		zap.Time("last", bars[len(bars)-1].Date),
	)
	return len(rows), nil
}

// SyncAll syncs every market concurrently. A failing market does not stop
// the others; the first error is returned with the counts of the rest.
func (s *Syncer) SyncAll(ctx context.Context, markets []model.Market, end time.Time, days int) (map[model.Market]int, error) {
	var (
		mu     sync.Mutex
		counts = make(map[model.Market]int, len(markets))
		g      errgroup.Group
	)
	for _, m := range markets {
		g.Go(func() error {
			n, err := s.Sync(ctx, m, end, days)
			if err != nil {
				zap.L().Error("pricesync: market failed", zap.String("market", string(m)), zap.Error(err))
				return err
			}
			mu.Lock()
			counts[m] = n
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return counts, err
}

// toDailyPrice maps a bar to a stored row. The continuous contract's close
// stands in for the front month; no second month is available.
func toDailyPrice(market model.Market, b yahoo.Bar) model.DailyPrice {
	front := b.Close
	return model.DailyPrice{
		Market:     market,
		TradeDate:  model.Date(b.Date),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		FrontMonth: &front,
	}
}
