package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "snapshot:WTI:2026-02-14")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "snapshot:WTI:2026-02-14", []byte(`{"lastPrice":72.8}`), time.Minute))
	v, ok, err := m.Get(ctx, "snapshot:WTI:2026-02-14")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"lastPrice":72.8}`, string(v))
}

func TestMemoryStore_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 5*time.Minute))
	now = now.Add(4 * time.Minute)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok, "entry expires exactly at ttl")
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, m.Set(ctx, "long", []byte("b"), time.Hour))
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStore_NonPositiveTTLIgnored(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set(context.Background(), "k", []byte("v"), 0))
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_ValueIsCopied(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'z'

	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
	v[1] = 'q'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Set(ctx, "k", []byte{byte(i)}, time.Minute)
			_, _, _ = m.Get(ctx, "k")
		}()
	}
	wg.Wait()
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis("not-a-url://")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}

func TestRedisStore_UnreachableReportsErrors(t *testing.T) {
	// Port 1 on loopback refuses connections immediately.
	s, err := NewRedis("redis://127.0.0.1:1/0")
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, ok, err := s.Get(ctx, "drivers:WTI:2026-02-14")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "cache: redis get")

	err = s.Set(ctx, "drivers:WTI:2026-02-14", []byte("{}"), time.Minute)
	assert.ErrorContains(t, err, "cache: redis set")

	assert.Error(t, s.Ping(ctx))
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), "redis://127.0.0.1:1/0")
	assert.Error(t, err)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
