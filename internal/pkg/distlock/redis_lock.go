package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLease provides a distributed lease via Redis using SET NX with TTL.
// Each lease carries a random holder id; release and extend go through Lua
// scripts so a worker can never drop a lease that a reclaiming worker now
// owns.
type RedisLease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

// NewRedisLease creates a new lease backed by Redis.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLease{
		client: client,
		key:    fmt.Sprintf("lease:%s", key),
		holder: hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to claim the lease. Returns true if successful.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release gives the lease up only if we still hold it.
func (l *RedisLease) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.holder).Result()
	return err
}

// Extend pushes the expiry out another TTL for a long-running step chain.
// Returns ErrNotHeld if the lease lapsed and may have been reclaimed.
func (l *RedisLease) Extend(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	res, err := script.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lease %s: %w", l.key, err)
	}
	if res == 0 {
		return fmt.Errorf("lease %s: %w", l.key, ErrNotHeld)
	}
	return nil
}
