package coordinator

import "sync/atomic"

// Counter names one coordinator outcome.
type Counter string

const (
	CounterCacheHit      Counter = "cache_hit"
	CounterStoreHit      Counter = "store_hit"
	CounterGenerated     Counter = "generated"
	CounterShared        Counter = "shared"
	CounterDegraded      Counter = "degraded"
	CounterPersistFailed Counter = "persist_failed"
	CounterFailed        Counter = "failed"
)

// Counters lists every counter in reporting order.
func Counters() []Counter {
	return []Counter{
		CounterCacheHit,
		CounterStoreHit,
		CounterGenerated,
		CounterShared,
		CounterDegraded,
		CounterPersistFailed,
		CounterFailed,
	}
}

// Stats counts outcomes. Safe for concurrent use.
type Stats struct {
	counts map[Counter]*atomic.Int64
}

// NewStats creates zeroed counters.
func NewStats() *Stats {
	s := &Stats{counts: make(map[Counter]*atomic.Int64, len(Counters()))}
	for _, c := range Counters() {
		s.counts[c] = new(atomic.Int64)
	}
	return s
}

// Inc adds one to c.
func (s *Stats) Inc(c Counter) {
	if n, ok := s.counts[c]; ok {
		n.Add(1)
	}
}

// Get returns the current value of c.
func (s *Stats) Get(c Counter) int64 {
	if n, ok := s.counts[c]; ok {
		return n.Load()
	}
	return 0
}

// Snapshot copies every counter.
func (s *Stats) Snapshot() map[Counter]int64 {
	out := make(map[Counter]int64, len(s.counts))
	for c, n := range s.counts {
		out[c] = n.Load()
	}
	return out
}
