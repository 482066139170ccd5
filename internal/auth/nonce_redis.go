package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/gatekeeper/internal/observability"
)

// DefaultNonceKeyPrefix is the Redis key prefix for nonce entries.
const DefaultNonceKeyPrefix = "hmac_nonce:"

// RedisNonceStore is a Redis-backed nonce store for multi-instance
// deployments. Replay detection relies on Redis SET NX, which is atomic
// per key, closing the check-then-set race a naive implementation would
// have under concurrent duplicate submissions.
type RedisNonceStore struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    observability.Logger
	metrics   *observability.Metrics
}

// Ensure RedisNonceStore implements NonceStore.
var _ NonceStore = (*RedisNonceStore)(nil)

// RedisNonceStoreOption is a functional option for the Redis nonce store.
type RedisNonceStoreOption func(*RedisNonceStore)

// WithNonceKeyPrefix overrides the Redis key prefix.
func WithNonceKeyPrefix(prefix string) RedisNonceStoreOption {
	return func(s *RedisNonceStore) {
		s.keyPrefix = prefix
	}
}

// WithNonceStoreLogger sets the logger.
func WithNonceStoreLogger(logger observability.Logger) RedisNonceStoreOption {
	return func(s *RedisNonceStore) {
		s.logger = logger
	}
}

// WithNonceStoreMetrics sets the metrics.
func WithNonceStoreMetrics(metrics *observability.Metrics) RedisNonceStoreOption {
	return func(s *RedisNonceStore) {
		s.metrics = metrics
	}
}

// NewRedisNonceStore creates a Redis-backed nonce store. The TTL bounds
// storage growth; the timestamp tolerance check rejects anything older,
// so expiry does not open a replay window.
func NewRedisNonceStore(client *redis.Client, ttl time.Duration, opts ...RedisNonceStoreOption) *RedisNonceStore {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	s := &RedisNonceStore{
		client:    client,
		ttl:       ttl,
		keyPrefix: DefaultNonceKeyPrefix,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// key builds the Redis key for a nonce.
func (s *RedisNonceStore) key(nonce string) string {
	return s.keyPrefix + nonce
}

// record counts a nonce store operation outcome.
func (s *RedisNonceStore) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordNonceStoreOp(operation, status)
}

// Add records a nonce with SET NX, returning false if it already exists.
func (s *RedisNonceStore) Add(ctx context.Context, nonce string, timestamp int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(nonce), strconv.FormatInt(timestamp, 10), s.ttl).Result()
	s.record("add", err)
	if err != nil {
		return false, fmt.Errorf("nonce store set: %w", err)
	}
	return ok, nil
}

// Contains reports whether a nonce has been seen.
func (s *RedisNonceStore) Contains(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(nonce)).Result()
	s.record("contains", err)
	if err != nil {
		return false, fmt.Errorf("nonce store exists: %w", err)
	}
	return n > 0, nil
}

// Get returns the timestamp recorded for a nonce.
func (s *RedisNonceStore) Get(ctx context.Context, nonce string) (int64, bool, error) {
	value, err := s.client.Get(ctx, s.key(nonce)).Result()
	if errors.Is(err, redis.Nil) {
		s.record("get", nil)
		return 0, false, nil
	}
	s.record("get", err)
	if err != nil {
		return 0, false, fmt.Errorf("nonce store get: %w", err)
	}
	timestamp, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed nonce timestamp %q: %w", value, err)
	}
	return timestamp, true, nil
}

// Close releases nothing; the Redis client is owned by the caller and
// may be shared with other components.
func (s *RedisNonceStore) Close() error {
	return nil
}
