package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-brief/internal/analysis"
	"github.com/sells-group/market-brief/internal/cache"
	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/store"
)

var testDate = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

// memStore is an in-memory AnalysisStore with injectable failures.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]*model.Record
	getErr  error
	putErr  error
	upserts int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*model.Record)}
}

func (s *memStore) GetAnalysis(_ context.Context, key model.AnalysisKey) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.recs[key.CacheKey()]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) UpsertAnalysis(_ context.Context, key model.AnalysisKey, content json.RawMessage) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return nil, s.putErr
	}
	s.upserts++
	rec := &model.Record{ID: key.CacheKey(), Key: key, Content: append(json.RawMessage(nil), content...)}
	s.recs[key.CacheKey()] = rec
	return rec, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// close makes later upserts fail the way a closed database would.
func (s *memStore) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = eris.New("store closed")
}

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *memStore) put(key model.AnalysisKey, v any) {
	raw, _ := json.Marshal(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key.CacheKey()] = &model.Record{Key: key, Content: raw}
}

// gatedStore holds its first GetAnalysis after the read until proceed is
// closed, so a caller can be parked between its store miss and generation.
type gatedStore struct {
	*memStore
	first   atomic.Bool
	missed  chan struct{}
	proceed chan struct{}
}

func newGatedStore(inner *memStore) *gatedStore {
	return &gatedStore{memStore: inner, missed: make(chan struct{}), proceed: make(chan struct{})}
}

func (s *gatedStore) GetAnalysis(ctx context.Context, key model.AnalysisKey) (*model.Record, error) {
	rec, err := s.memStore.GetAnalysis(ctx, key)
	if s.first.CompareAndSwap(false, true) {
		close(s.missed)
		<-s.proceed
	}
	return rec, err
}

// brokenCache fails every operation.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, eris.New("cache down")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return eris.New("cache down")
}

func (brokenCache) Close() error { return nil }

// ttlCache records the TTL of every write.
type ttlCache struct {
	cache.Store
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func newTTLCache() *ttlCache {
	return &ttlCache{Store: cache.NewMemory(), ttls: make(map[string]time.Duration)}
}

func (c *ttlCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.ttls[key] = ttl
	c.mu.Unlock()
	return c.Store.Set(ctx, key, value, ttl)
}

func (c *ttlCache) ttl(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.ttls[key]
	return d, ok
}

// fakeGen counts calls and delegates to fn.
type fakeGen[T any] struct {
	calls atomic.Int32
	fn    func(ctx context.Context, market model.Market, date time.Time, b analysis.Bundle) (analysis.Result[T], error)
}

func (g *fakeGen[T]) Generate(ctx context.Context, market model.Market, date time.Time, b analysis.Bundle) (analysis.Result[T], error) {
	g.calls.Add(1)
	return g.fn(ctx, market, date, b)
}

func healthyDrivers(summary string) *fakeGen[model.DriverAttribution] {
	return &fakeGen[model.DriverAttribution]{
		fn: func(_ context.Context, market model.Market, date time.Time, _ analysis.Bundle) (analysis.Result[model.DriverAttribution], error) {
			return analysis.Healthy(driversContent(market, date, summary)), nil
		},
	}
}

func driversContent(market model.Market, date time.Time, summary string) model.DriverAttribution {
	d := model.Driver{
		FactorID:   "opec_production",
		FactorName: "OPEC+ output",
		Category:   model.CategorySupply,
		Direction:  model.DirectionUp,
		Strength:   7,
		Evidence:   []string{"cuts extended"},
	}
	return model.DriverAttribution{
		Market:     market,
		AsOf:       date,
		Summary:    summary,
		TopDrivers: []model.Driver{d},
		AllDrivers: []model.Driver{d},
	}
}

func newDrivers(c cache.Store, st store.AnalysisStore, gen analysis.Generator[model.DriverAttribution]) *Coordinator[model.DriverAttribution] {
	return New(model.AnalysisDrivers, c, st, gen, nil, Options{
		TTL:   TTLPolicy{Current: 30 * time.Minute},
		Today: func() time.Time { return testDate },
	})
}
