package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCourierIDMissing: the rate-shopping handoff expired or never happened.
var ErrCourierIDMissing = errors.New("courier id missing")

// CourierCache carries the courier id chosen at rate-shopping time to the
// fulfillment request.
type CourierCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewCourierCache(rdb redis.Cmdable, ttl time.Duration) *CourierCache {
	if ttl <= 0 {
		ttl = TTLCourierID
	}
	return &CourierCache{rdb: rdb, ttl: ttl}
}

func (c *CourierCache) Put(ctx context.Context, orderID, courierID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyCourierID, orderID), courierID, c.ttl).Err()
}

func (c *CourierCache) Get(ctx context.Context, orderID string) (string, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf(KeyCourierID, orderID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && v == "") {
		return "", ErrCourierIDMissing
	}
	return v, err
}

func (c *CourierCache) Delete(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyCourierID, orderID)).Err()
}

// ServiceabilityCache memoises pincode serviceability answers.
type ServiceabilityCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewServiceabilityCache(rdb redis.Cmdable) *ServiceabilityCache {
	return &ServiceabilityCache{rdb: rdb, ttl: TTLServiceability}
}

// Get returns (answer, found).
func (c *ServiceabilityCache) Get(ctx context.Context, pincode string) (bool, bool, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf(KeyServiceability, pincode)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *ServiceabilityCache) Put(ctx context.Context, pincode string, ok bool) error {
	v := "0"
	if ok {
		v = "1"
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyServiceability, pincode), v, c.ttl).Err()
}
