// Package ratelimit enforces per-client request caps over a rolling
// 24-hour window, backed by an atomic counter store.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is the counter key prefix.
const DefaultKeyPrefix = "ratelimit:"

// Counter is an atomic per-key counter with expiry-on-first-write
// semantics. Increment must be atomic: concurrent increments for the
// same key must serialize, and only the first write sets the expiry.
type Counter interface {
	// Increment atomically increments the key's counter, setting the
	// expiry only when the key is created, and returns the new count.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Current returns the key's count without modifying it.
	Current(ctx context.Context, key string) (int64, error)

	// Close releases the counter's resources.
	Close() error
}

// incrementWithExpiryScript atomically increments a key and sets its
// expiry only on creation, so the window rolls from the first request.
// KEYS[1] = key, ARGV[1] = expiry in seconds.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCounter implements Counter using Redis.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// Ensure RedisCounter implements Counter.
var _ Counter = (*RedisCounter)(nil)

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// Increment atomically increments the counter via a Lua script.
func (c *RedisCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrementWithExpiryScript.Run(ctx, c.client,
		[]string{c.prefix + key}, int(ttl.Seconds())).Int64()
	if err != nil {
		return 0, fmt.Errorf("counter increment: %w", err)
	}
	return count, nil
}

// Current returns the counter's value, zero when absent.
func (c *RedisCounter) Current(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Get(ctx, c.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter read: %w", err)
	}
	return count, nil
}

// Close releases nothing; the Redis client is owned by the caller and
// may be shared with other components.
func (c *RedisCounter) Close() error {
	return nil
}

// memoryCounterEntry is a counter value with its window expiry.
type memoryCounterEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter implements Counter with in-process state. It is suitable
// for tests and single-instance deployments.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memoryCounterEntry
	now     func() time.Time
}

// Ensure MemoryCounter implements Counter.
var _ Counter = (*MemoryCounter)(nil)

// NewMemoryCounter creates an in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*memoryCounterEntry),
		now:     time.Now,
	}
}

// Increment atomically increments the counter under a mutex.
func (c *MemoryCounter) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryCounterEntry{expiresAt: now.Add(ttl)}
		c.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// Current returns the counter's value, zero when absent or expired.
func (c *MemoryCounter) Current(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}

// Close releases the counter's resources.
func (c *MemoryCounter) Close() error {
	return nil
}
