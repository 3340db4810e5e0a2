package scheduler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-brief/internal/clock"
	"github.com/sells-group/market-brief/internal/coordinator"
	"github.com/sells-group/market-brief/internal/model"
)

// Generator regenerates one analysis artifact.
type Generator interface {
	GenerateAndSave(ctx context.Context, typ model.AnalysisType, market model.Market, date time.Time) (coordinator.Report, error)
}

// PriceSyncer refreshes price history for several markets.
type PriceSyncer interface {
	SyncAll(ctx context.Context, markets []model.Market, end time.Time, days int) (map[model.Market]int, error)
}

// GenerateJob regenerates typ for every market on the type's current
// effective date, one goroutine per market.
func GenerateJob(gen Generator, b *clock.Boundary, typ model.AnalysisType, markets []model.Market) Job {
	return func(ctx context.Context) error {
		date := b.Today(typ)
		var g errgroup.Group
		for _, m := range markets {
			g.Go(func() error {
				rep, err := gen.GenerateAndSave(ctx, typ, m, date)
				if err != nil {
					return eris.Wrapf(err, "scheduler: generate %s %s", typ, m)
				}
				fields := []zap.Field{
					zap.String("key", rep.Key.CacheKey()),
					zap.Bool("degraded", rep.Degraded),
					zap.Bool("shared", rep.Shared),
				}
				if rep.PersistErr != nil {
					fields = append(fields, zap.NamedError("persist_error", rep.PersistErr))
				}
				zap.L().Info("scheduler: generated", fields...)
				return nil
			})
		}
		return g.Wait()
	}
}

// SyncJob pulls the last days of prices for every market, ending today in
// the boundary's timezone.
func SyncJob(s PriceSyncer, b *clock.Boundary, markets []model.Market, days int, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		end := model.Date(now().In(b.Location()))
		counts, err := s.SyncAll(ctx, markets, end, days)
		for m, n := range counts {
			zap.L().Info("scheduler: prices synced", zap.String("market", string(m)), zap.Int("bars", n))
		}
		return err
	}
}

// RegisterDefaults registers the price sync and one generation job per
// analysis type at its cutoff.
func RegisterDefaults(r Registrar, gen Generator, syncer PriceSyncer, b *clock.Boundary, syncAt clock.TimeOfDay, syncDays int) error {
	markets := model.Markets()
	if syncer != nil {
		if err := r.RegisterDaily("price_sync", syncAt, SyncJob(syncer, b, markets, syncDays, nil)); err != nil {
			return err
		}
	}
	for _, typ := range model.AnalysisTypes() {
		if err := r.RegisterDaily("generate_"+string(typ), b.Cutoff(typ), GenerateJob(gen, b, typ, markets)); err != nil {
			return err
		}
	}
	return nil
}
