// Package monitoring watches coordinator outcomes and raises alerts when
// generation degrades or stops persisting.
package monitoring

import (
	"maps"
	"sync"
	"time"

	"github.com/sells-group/market-brief/internal/coordinator"
	"github.com/sells-group/market-brief/internal/model"
)

// Counts is a set of outcome counters per analysis type.
type Counts = map[model.AnalysisType]map[coordinator.Counter]int64

// MetricsSnapshot is the outcome activity between two collections.
type MetricsSnapshot struct {
	// Totals are cumulative since process start.
	Totals Counts `json:"totals"`
	// Delta is the activity since the previous collection.
	Delta Counts `json:"delta"`

	// Attempts counts leader generations in Delta: generated, degraded,
	// persist_failed and failed.
	Attempts      int64   `json:"attempts"`
	Degraded      int64   `json:"degraded"`
	DegradedRatio float64 `json:"degraded_ratio"`
	PersistFailed int64   `json:"persist_failed"`
	Failed        int64   `json:"failed"`

	// Circuits maps upstream name to breaker state.
	Circuits map[string]string `json:"circuits,omitempty"`

	Window      time.Duration `json:"window"`
	CollectedAt time.Time     `json:"collected_at"`
}

// StatsSource exposes coordinator counters.
type StatsSource interface {
	Stats() Counts
}

// CircuitSource exposes breaker states.
type CircuitSource interface {
	States() map[string]string
}

// Collector turns cumulative counters into per-interval snapshots.
type Collector struct {
	stats    StatsSource
	circuits CircuitSource
	now      func() time.Time

	mu       sync.Mutex
	last     Counts
	lastTime time.Time
}

// NewCollector creates a collector. circuits may be nil.
func NewCollector(stats StatsSource, circuits CircuitSource) *Collector {
	return &Collector{stats: stats, circuits: circuits, now: time.Now}
}

// Collect returns the activity since the previous call. The first call
// reports everything counted so far.
func (c *Collector) Collect() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	totals := c.stats.Stats()
	snap := &MetricsSnapshot{
		Totals:      totals,
		Delta:       make(Counts, len(totals)),
		CollectedAt: now,
	}
	if !c.lastTime.IsZero() {
		snap.Window = now.Sub(c.lastTime)
	}

	for typ, counters := range totals {
		prev := c.last[typ]
		d := make(map[coordinator.Counter]int64, len(counters))
		for name, v := range counters {
			d[name] = v - prev[name]
		}
		snap.Delta[typ] = d

		snap.Degraded += d[coordinator.CounterDegraded]
		snap.PersistFailed += d[coordinator.CounterPersistFailed]
		snap.Failed += d[coordinator.CounterFailed]
		snap.Attempts += d[coordinator.CounterGenerated] +
			d[coordinator.CounterDegraded] +
			d[coordinator.CounterPersistFailed] +
			d[coordinator.CounterFailed]
	}
	if snap.Attempts > 0 {
		snap.DegradedRatio = float64(snap.Degraded) / float64(snap.Attempts)
	}
	if c.circuits != nil {
		snap.Circuits = c.circuits.States()
	}

	c.last = make(Counts, len(totals))
	for typ, counters := range totals {
		c.last[typ] = maps.Clone(counters)
	}
	c.lastTime = now
	return snap
}
