// Package coordinator serves analysis artifacts through the cache and store
// tiers and runs generation at most once per key at a time.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/market-brief/internal/analysis"
	"github.com/sells-group/market-brief/internal/cache"
	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/store"
)

// DefaultTimeout bounds one detached generation.
const DefaultTimeout = 120 * time.Second

// Source says which tier served an outcome.
type Source string

const (
	SourceCache     Source = "cache"
	SourceStore     Source = "store"
	SourceGenerated Source = "generated"
)

// Outcome is what a caller receives for one key.
type Outcome[T any] struct {
	Content T
	Source  Source
	// Degraded content was neither persisted nor cached.
	Degraded bool
	Cause    error
	// PersistErr is set when generated content could not be stored. The
	// content is still valid and the cache was not filled.
	PersistErr error
	// Shared is true when this caller joined another caller's generation.
	Shared bool
}

// TTLPolicy picks the cache TTL for an entry. Current applies when the
// entry's date is the type's current effective date, Historical otherwise.
// A zero Historical means Current for every date.
type TTLPolicy struct {
	Current    time.Duration
	Historical time.Duration
}

// For returns the TTL for date given today's effective date.
func (p TTLPolicy) For(date, today time.Time) time.Duration {
	if p.Historical <= 0 || model.Date(date).Equal(model.Date(today)) {
		return p.Current
	}
	return p.Historical
}

// Options configures a Coordinator.
type Options struct {
	TTL TTLPolicy
	// Timeout bounds detached generation. Default DefaultTimeout.
	Timeout time.Duration
	// Today returns the type's current effective date. Default: UTC civil date.
	Today func() time.Time
	// Stats receives outcome counts. Default: a fresh Stats.
	Stats *Stats
}

// Coordinator serves one analysis type: cache, then store, then a
// single-flight generation that persists and fills the cache.
type Coordinator[T any] struct {
	typ     model.AnalysisType
	cache   cache.Store
	store   store.AnalysisStore
	gen     analysis.Generator[T]
	bundles BundleLoader

	ttl     TTLPolicy
	timeout time.Duration
	today   func() time.Time
	stats   *Stats

	group singleflight.Group
	// inflight tracks detached generations so Drain can wait for them.
	inflight sync.WaitGroup
	// waiting counts callers currently attached to a generation.
	waiting atomic.Int32
}

// New creates a coordinator for typ.
func New[T any](typ model.AnalysisType, c cache.Store, st store.AnalysisStore, gen analysis.Generator[T], bundles BundleLoader, opts Options) *Coordinator[T] {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Today == nil {
		opts.Today = func() time.Time { return model.Date(time.Now().UTC()) }
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	return &Coordinator[T]{
		typ:     typ,
		cache:   c,
		store:   st,
		gen:     gen,
		bundles: bundles,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		today:   opts.Today,
		stats:   opts.Stats,
	}
}

// Type returns the analysis type this coordinator serves.
func (c *Coordinator[T]) Type() model.AnalysisType { return c.typ }

// Stats returns the coordinator's outcome counters.
func (c *Coordinator[T]) Stats() *Stats { return c.stats }

// Get returns the content for (market, date), generating it when neither
// tier holds it. Cache and store read failures fall through to generation.
func (c *Coordinator[T]) Get(ctx context.Context, market model.Market, date time.Time) (Outcome[T], error) {
	key := model.NewKey(market, c.typ, date)
	log := zap.L().With(zap.String("key", key.CacheKey()))

	if c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, key.CacheKey())
		switch {
		case err != nil:
			log.Warn("coordinator: cache read failed", zap.Error(err))
		case ok:
			var content T
			if err := json.Unmarshal(raw, &content); err != nil {
				log.Warn("coordinator: undecodable cache entry", zap.Error(err))
			} else {
				c.stats.Inc(CounterCacheHit)
				return Outcome[T]{Content: content, Source: SourceCache}, nil
			}
		}
	}

	rec, err := c.store.GetAnalysis(ctx, key)
	switch {
	case err != nil:
		log.Warn("coordinator: store read failed", zap.Error(err))
	case rec != nil:
		var content T
		if err := json.Unmarshal(rec.Content, &content); err != nil {
			log.Warn("coordinator: undecodable stored record", zap.Error(err))
			break
		}
		c.fillCache(ctx, key, rec.Content)
		c.stats.Inc(CounterStoreHit)
		return Outcome[T]{Content: content, Source: SourceStore}, nil
	}

	return c.generate(ctx, key, true)
}

// GenerateAndSave runs generation for (market, date) without consulting
// either tier. It joins an in-flight generation for the same key.
func (c *Coordinator[T]) GenerateAndSave(ctx context.Context, market model.Market, date time.Time) (Outcome[T], error) {
	return c.generate(ctx, model.NewKey(market, c.typ, date), false)
}

// Drain waits for detached generations to finish persisting, or for ctx
// to end. Call it after new requests have stopped and before closing the
// store.
func (c *Coordinator[T]) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "coordinator: drain %s", c.typ)
	}
}

// generate waits for the key's single-flight generation. The generation
// runs on a context detached from ctx, so a caller that gives up gets its
// own context error while the work still completes for everyone else.
// With recheck the leader reads the store again first, since another
// generation may have persisted the key after this caller's store miss.
func (c *Coordinator[T]) generate(ctx context.Context, key model.AnalysisKey, recheck bool) (Outcome[T], error) {
	leader := false
	ch := c.group.DoChan(key.CacheKey(), func() (any, error) {
		c.inflight.Add(1)
		defer c.inflight.Done()
		leader = true
		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if recheck {
			if out, ok := c.stored(gctx, key); ok {
				return out, nil
			}
		}
		return c.run(gctx, key)
	})
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	select {
	case <-ctx.Done():
		var zero Outcome[T]
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Outcome[T]{}, res.Err
		}
		out := res.Val.(Outcome[T])
		if !leader {
			out.Shared = true
			c.stats.Inc(CounterShared)
		}
		return out, nil
	}
}

// run is the leader's body. A panic is converted to an error so the
// single-flight entry is always released.
func (c *Coordinator[T]) run(ctx context.Context, key model.AnalysisKey) (out Outcome[T], err error) {
	log := zap.L().With(zap.String("key", key.CacheKey()))
	defer func() {
		if r := recover(); r != nil {
			c.stats.Inc(CounterFailed)
			log.Error("coordinator: generation panicked", zap.Any("panic", r))
			err = eris.Errorf("coordinator: generate %s: panic: %v", key, r)
		}
	}()

	start := time.Now()
	bundle := c.loadBundle(ctx, key)

	res, err := c.gen.Generate(ctx, key.Market, key.Date, bundle)
	if err != nil {
		c.stats.Inc(CounterFailed)
		return out, eris.Wrapf(err, "coordinator: generate %s", key)
	}
	if res.Degraded {
		c.stats.Inc(CounterDegraded)
		log.Warn("coordinator: degraded result, not persisting",
			zap.Error(res.Cause),
			zap.Duration("elapsed", time.Since(start)),
		)
		return Outcome[T]{Content: res.Content, Source: SourceGenerated, Degraded: true, Cause: res.Cause}, nil
	}

	payload, err := json.Marshal(res.Content)
	if err != nil {
		c.stats.Inc(CounterFailed)
		return out, eris.Wrapf(err, "coordinator: encode %s", key)
	}

	out = Outcome[T]{Content: res.Content, Source: SourceGenerated}
	if _, err := c.store.UpsertAnalysis(ctx, key, payload); err != nil {
		c.stats.Inc(CounterPersistFailed)
		log.Error("coordinator: persist failed", zap.Error(err))
		out.PersistErr = err
		return out, nil
	}
	c.fillCache(ctx, key, payload)
	c.stats.Inc(CounterGenerated)
	log.Info("coordinator: generated", zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// stored returns the persisted content for key and fills the cache.
func (c *Coordinator[T]) stored(ctx context.Context, key model.AnalysisKey) (Outcome[T], bool) {
	rec, err := c.store.GetAnalysis(ctx, key)
	if err != nil || rec == nil {
		return Outcome[T]{}, false
	}
	var content T
	if err := json.Unmarshal(rec.Content, &content); err != nil {
		return Outcome[T]{}, false
	}
	c.fillCache(ctx, key, rec.Content)
	c.stats.Inc(CounterStoreHit)
	return Outcome[T]{Content: content, Source: SourceStore}, true
}

func (c *Coordinator[T]) loadBundle(ctx context.Context, key model.AnalysisKey) analysis.Bundle {
	empty := analysis.Bundle{Market: key.Market, Date: key.Date}
	if c.bundles == nil {
		return empty
	}
	b, err := c.bundles.Load(ctx, key.Market, key.Date)
	if err != nil {
		zap.L().Warn("coordinator: load price bundle failed",
			zap.String("key", key.CacheKey()),
			zap.Error(err),
		)
		return empty
	}
	return b
}

func (c *Coordinator[T]) fillCache(ctx context.Context, key model.AnalysisKey, payload []byte) {
	if c.cache == nil {
		return
	}
	ttl := c.ttl.For(key.Date, c.today())
	if ttl <= 0 {
		return
	}
	if err := c.cache.Set(ctx, key.CacheKey(), payload, ttl); err != nil {
		zap.L().Warn("coordinator: cache write failed",
			zap.String("key", key.CacheKey()),
			zap.Error(err),
		)
	}
}
