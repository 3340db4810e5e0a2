package coordinator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-brief/internal/analysis"
	"github.com/sells-group/market-brief/internal/cache"
	"github.com/sells-group/market-brief/internal/clock"
	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/store"
)

// Generators holds one generator per analysis type.
type Generators struct {
	Snapshot analysis.Generator[model.Snapshot]
	Drivers  analysis.Generator[model.DriverAttribution]
	Events   analysis.Generator[model.EventTimeline]
	Regime   analysis.Generator[model.RegimeState]
}

// ServiceConfig holds cache TTLs and the generation bound.
type ServiceConfig struct {
	SnapshotCurrentTTL    time.Duration
	SnapshotHistoricalTTL time.Duration
	AnalysisTTL           time.Duration
	Timeout               time.Duration
}

// Report summarizes one GenerateAndSave run.
type Report struct {
	Key        model.AnalysisKey
	Degraded   bool
	Shared     bool
	PersistErr error
}

// Service routes requests to the coordinator for each analysis type and
// resolves request dates through the boundary clock.
type Service struct {
	boundary *clock.Boundary

	snapshot *Coordinator[model.Snapshot]
	drivers  *Coordinator[model.DriverAttribution]
	events   *Coordinator[model.EventTimeline]
	regime   *Coordinator[model.RegimeState]
}

// NewService builds the four coordinators over shared tiers.
func NewService(b *clock.Boundary, c cache.Store, st store.AnalysisStore, gens Generators, bundles BundleLoader, cfg ServiceConfig) *Service {
	opts := func(typ model.AnalysisType, ttl TTLPolicy) Options {
		return Options{
			TTL:     ttl,
			Timeout: cfg.Timeout,
			Today:   func() time.Time { return b.Today(typ) },
		}
	}
	llmTTL := TTLPolicy{Current: cfg.AnalysisTTL}

	return &Service{
		boundary: b,
		snapshot: New(model.AnalysisSnapshot, c, st, gens.Snapshot, bundles,
			opts(model.AnalysisSnapshot, TTLPolicy{Current: cfg.SnapshotCurrentTTL, Historical: cfg.SnapshotHistoricalTTL})),
		drivers: New(model.AnalysisDrivers, c, st, gens.Drivers, bundles, opts(model.AnalysisDrivers, llmTTL)),
		events:  New(model.AnalysisEvents, c, st, gens.Events, bundles, opts(model.AnalysisEvents, llmTTL)),
		regime:  New(model.AnalysisRegime, c, st, gens.Regime, bundles, opts(model.AnalysisRegime, llmTTL)),
	}
}

// Boundary returns the service's boundary clock.
func (s *Service) Boundary() *clock.Boundary { return s.boundary }

// Snapshot returns the market snapshot for asOf, or for the current
// effective date when asOf is nil.
func (s *Service) Snapshot(ctx context.Context, market model.Market, asOf *time.Time) (Outcome[model.Snapshot], error) {
	return s.snapshot.Get(ctx, market, s.boundary.Resolve(model.AnalysisSnapshot, asOf))
}

// Drivers returns the driver attribution for asOf.
func (s *Service) Drivers(ctx context.Context, market model.Market, asOf *time.Time) (Outcome[model.DriverAttribution], error) {
	return s.drivers.Get(ctx, market, s.boundary.Resolve(model.AnalysisDrivers, asOf))
}

// Regime returns the regime state for asOf.
func (s *Service) Regime(ctx context.Context, market model.Market, asOf *time.Time) (Outcome[model.RegimeState], error) {
	return s.regime.Get(ctx, market, s.boundary.Resolve(model.AnalysisRegime, asOf))
}

// Events returns the event timeline for asOf, keeping only events from
// the last windowDays days. The stored timeline is not affected by
// windowDays; a non-positive value returns it unfiltered.
func (s *Service) Events(ctx context.Context, market model.Market, asOf *time.Time, windowDays int) (Outcome[model.EventTimeline], error) {
	date := s.boundary.Resolve(model.AnalysisEvents, asOf)
	out, err := s.events.Get(ctx, market, date)
	if err != nil || windowDays <= 0 {
		return out, err
	}
	out.Content = out.Content.Within(date.AddDate(0, 0, -windowDays), windowDays)
	return out, nil
}

// GenerateAndSave regenerates one artifact, bypassing both tiers.
func (s *Service) GenerateAndSave(ctx context.Context, typ model.AnalysisType, market model.Market, date time.Time) (Report, error) {
	key := model.NewKey(market, typ, date)
	var (
		degraded, shared bool
		persistErr       error
		err              error
	)
	switch typ {
	case model.AnalysisSnapshot:
		var out Outcome[model.Snapshot]
		out, err = s.snapshot.GenerateAndSave(ctx, market, date)
		degraded, shared, persistErr = out.Degraded, out.Shared, out.PersistErr
	case model.AnalysisDrivers:
		var out Outcome[model.DriverAttribution]
		out, err = s.drivers.GenerateAndSave(ctx, market, date)
		degraded, shared, persistErr = out.Degraded, out.Shared, out.PersistErr
	case model.AnalysisEvents:
		var out Outcome[model.EventTimeline]
		out, err = s.events.GenerateAndSave(ctx, market, date)
		degraded, shared, persistErr = out.Degraded, out.Shared, out.PersistErr
	case model.AnalysisRegime:
		var out Outcome[model.RegimeState]
		out, err = s.regime.GenerateAndSave(ctx, market, date)
		degraded, shared, persistErr = out.Degraded, out.Shared, out.PersistErr
	default:
		return Report{Key: key}, eris.Wrapf(model.ErrInvalidAnalysisType, "coordinator: %q", typ)
	}
	if err != nil {
		return Report{Key: key}, err
	}
	return Report{Key: key, Degraded: degraded, Shared: shared, PersistErr: persistErr}, nil
}

// Stats snapshots every coordinator's counters by analysis type.
func (s *Service) Stats() map[model.AnalysisType]map[Counter]int64 {
	return map[model.AnalysisType]map[Counter]int64{
		model.AnalysisSnapshot: s.snapshot.Stats().Snapshot(),
		model.AnalysisDrivers:  s.drivers.Stats().Snapshot(),
		model.AnalysisEvents:   s.events.Stats().Snapshot(),
		model.AnalysisRegime:   s.regime.Stats().Snapshot(),
	}
}

// Drain waits for every coordinator's detached generations to persist,
// or for ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.snapshot.Drain(ctx) })
	g.Go(func() error { return s.drivers.Drain(ctx) })
	g.Go(func() error { return s.events.Drain(ctx) })
	g.Go(func() error { return s.regime.Drain(ctx) })
	return g.Wait()
}
