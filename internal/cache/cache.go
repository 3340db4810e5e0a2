// Package cache is the fast, lossy tier in front of the analysis store.
package cache

import (
	"context"
	"time"
)

// Store is a key/value cache with per-entry TTL. Entries may disappear at
// any time; a miss is reported as ok == false with a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}
