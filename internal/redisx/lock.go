package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is a single-shot Redis mutex (SET NX PX). It never waits: a held
// key means another execution is in progress. A holder that outlives the TTL
// loses the lock silently.
type Locker struct {
	rdb redis.Cmdable
}

func NewLocker(rdb redis.Cmdable) *Locker { return &Locker{rdb: rdb} }

// Lease is a held lock. The token keeps Release from deleting a lock that
// expired and was taken by someone else.
type Lease struct {
	Key   string
	token string
}

// OrderLockKey is the mutex key for one order.
func OrderLockKey(orderID string) string { return fmt.Sprintf(KeyOrderLock, orderID) }

// TryAcquire makes one attempt. ok is false when the key is already held.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{Key: key, token: token}, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Release deletes the key if this lease still owns it.
func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.rdb, []string{lease.Key}, lease.token).Err()
}
