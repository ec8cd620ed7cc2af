package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper claims webhook event ids with SETNX.  A nil client claims
// every id, leaving deduplication to the idempotent store transitions.
type RedisDeduper struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper returns a deduper that remembers ids for ttl.
func NewRedisDeduper(rdb *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "tm:webhook"
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) key(id string) string { return d.prefix + ":" + id }

// Claim reports whether id is seen for the first time.
func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	if d == nil || d.rdb == nil {
		return true, nil
	}
	return d.rdb.SetNX(ctx, d.key(id), "1", d.ttl).Result()
}

// Forget removes a claim so a redelivery is processed again.
func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	if d == nil || d.rdb == nil {
		return nil
	}
	return d.rdb.Del(ctx, d.key(id)).Err()
}
