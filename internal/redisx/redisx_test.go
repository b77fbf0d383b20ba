package redisx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLocker_SecondAcquireFails(t *testing.T) {
	_, rdb := newRedis(t)
	l := NewLocker(rdb)
	ctx := context.Background()
	key := OrderLockKey("O1")
	assert.Equal(t, "lock:order:O1", key)

	lease, ok, err := l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, lease))
	_, ok, err = l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ConcurrentAcquireHasOneWinner(t *testing.T) {
	_, rdb := newRedis(t)
	l := NewLocker(rdb)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := l.TryAcquire(ctx, OrderLockKey("O1"), time.Minute); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestLocker_ExpiredLeaseDoesNotReleaseNewHolder(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewLocker(rdb)
	ctx := context.Background()
	key := OrderLockKey("O1")

	stale, ok, err := l.TryAcquire(ctx, key, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, stale))
	assert.True(t, mr.Exists(key), "stale release must not drop the new holder")
}

func TestCourierCache(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewCourierCache(rdb, 2000*time.Second)
	ctx := context.Background()

	_, err := c.Get(ctx, "O1")
	assert.ErrorIs(t, err, ErrCourierIDMissing)

	require.NoError(t, c.Put(ctx, "O1", "C1"))
	got, err := c.Get(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "C1", got)
	assert.Equal(t, 2000*time.Second, mr.TTL("courierId:O1"))

	mr.FastForward(2001 * time.Second)
	_, err = c.Get(ctx, "O1")
	assert.ErrorIs(t, err, ErrCourierIDMissing)
}

func TestServiceabilityCache(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewServiceabilityCache(rdb)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "110001")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Put(ctx, "110001", true))
	ok, found, err := c.Get(ctx, "110001")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, mr.TTL("shipping:pincode:110001"))
}

func TestMarkOnce(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	first, err := MarkOnce(ctx, rdb, "dedup:worker:e1", time.Hour)
	require.NoError(t, err)
	again, err := MarkOnce(ctx, rdb, "dedup:worker:e1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)
}
