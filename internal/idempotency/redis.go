// Package idempotency remembers which provider events have been processed so
// a redelivered webhook is applied once.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cokilo:idem:"

// RedisGuard claims keys with SET NX and a TTL. Claims are shared by every
// API instance pointing at the same Redis.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to redisURL, in the form
// redis://[:password@]host[:port][/database].
func NewRedisGuard(redisURL string, ttl time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("idempotency.NewRedisGuard: parse url: %w", err)
	}
	return &RedisGuard{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Claim returns true when key was not claimed before, false when it was.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency.RedisGuard.Claim %s: %w", key, err)
	}
	return ok, nil
}

// Release forgets a claim so the key can be processed again.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency.RedisGuard.Release %s: %w", key, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (g *RedisGuard) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
