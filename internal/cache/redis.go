package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// KeyPrefix namespaces every key this service writes.
const KeyPrefix = "market-brief:"

// RedisStore implements Store on go-redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedis parses url and returns a store. It does not dial; use Ping to
// verify connectivity.
func NewRedis(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	opts.MaxRetries = 1
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

// Connect is NewRedis followed by a bounded Ping.
func Connect(ctx context.Context, url string) (*RedisStore, error) {
	s, err := NewRedis(url)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.rdb.Ping(ctx).Err(), "cache: redis ping")
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: redis get %s", key)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return eris.Wrapf(s.rdb.Set(ctx, KeyPrefix+key, value, ttl).Err(), "cache: redis set %s", key)
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
