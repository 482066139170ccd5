package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/observability"
	"github.com/vyrodovalexey/gatekeeper/internal/store"
)

// Window is the rolling rate limit window. It rolls from each client's
// first request, not from a calendar boundary.
const Window = 24 * time.Hour

// DefaultCacheTTL is how long a client's cap resolution is cached before
// a fresh storage lookup.
const DefaultCacheTTL = 5 * time.Minute

// ErrCounterUnavailable indicates the counter store could not be reached.
var ErrCounterUnavailable = errors.New("rate limit counter unavailable")

// LimitSource resolves rate limit configuration. It is implemented by
// the storage layer.
type LimitSource interface {
	RateLimitByClient(ctx context.Context, clientID string) (*model.RateLimit, error)
}

// Usage describes a client's current consumption.
type Usage struct {
	ClientID  string `json:"client_id"`
	Requests  int64  `json:"requests"`
	Limit     int64  `json:"limit,omitempty"`
	Remaining int64  `json:"remaining,omitempty"`
	Unlimited bool   `json:"unlimited"`
}

// cachedLimit is a cached cap resolution. A zero limit with ok=false
// would be ambiguous, so "no cap configured" is stored explicitly.
type cachedLimit struct {
	limit     int64
	unlimited bool
	fetchedAt time.Time
}

// Limiter enforces per-client request caps. Cap resolutions are cached
// for a bounded interval; the counter increment-and-compare is a single
// atomic operation against the counter store. A circuit breaker guards
// the counter store; its trip behavior is governed by the fail-open
// policy.
type Limiter struct {
	limits   LimitSource
	counter  Counter
	breaker  *gobreaker.CircuitBreaker
	cacheTTL time.Duration
	failOpen bool
	logger   observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedLimit
}

// LimiterOption is a functional option for the limiter.
type LimiterOption func(*Limiter)

// WithCacheTTL overrides the cap cache TTL.
func WithCacheTTL(ttl time.Duration) LimiterOption {
	return func(l *Limiter) {
		l.cacheTTL = ttl
	}
}

// WithFailOpen makes counter store failures bypass the limiter instead
// of denying. Default is fail closed: a capped client is denied when the
// counter store is unreachable, never silently uncapped.
func WithFailOpen(failOpen bool) LimiterOption {
	return func(l *Limiter) {
		l.failOpen = failOpen
	}
}

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger observability.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithLimiterMetrics sets the metrics.
func WithLimiterMetrics(metrics *observability.Metrics) LimiterOption {
	return func(l *Limiter) {
		l.metrics = metrics
	}
}

// WithLimiterClock overrides the time source, for tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a rate limiter.
func NewLimiter(limits LimitSource, counter Counter, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		limits:   limits,
		counter:  counter,
		cacheTTL: DefaultCacheTTL,
		logger:   observability.NopLogger(),
		now:      time.Now,
		cache:    make(map[string]cachedLimit),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ratelimit-counter",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn("rate limit circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return l
}

// Allow reports whether the client is within its cap. Uncapped clients
// never touch the counter. For capped clients the counter is atomically
// incremented and compared against the cap.
func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	limit, unlimited, err := l.limitFor(ctx, clientID)
	if err != nil {
		return false, err
	}
	if unlimited {
		return true, nil
	}

	count, err := l.increment(ctx, clientID)
	if err != nil {
		if l.failOpen {
			l.logger.Warn("counter store unavailable, bypassing rate limit",
				observability.String("client_id", clientID),
				observability.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
	}

	if count > limit {
		if l.metrics != nil {
			l.metrics.RecordRateLimitHit(clientID)
		}
		l.logger.Warn("rate limit exceeded",
			observability.String("client_id", clientID),
			observability.Int64("limit", limit),
			observability.Int64("count", count),
		)
		return false, nil
	}
	return true, nil
}

// increment runs the atomic counter increment behind the circuit breaker.
func (l *Limiter) increment(ctx context.Context, clientID string) (int64, error) {
	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.counter.Increment(ctx, clientID, Window)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// limitFor resolves the client's cap, consulting the cache first.
func (l *Limiter) limitFor(ctx context.Context, clientID string) (int64, bool, error) {
	now := l.now()

	l.mu.RLock()
	cached, ok := l.cache[clientID]
	l.mu.RUnlock()
	if ok && now.Sub(cached.fetchedAt) < l.cacheTTL {
		return cached.limit, cached.unlimited, nil
	}

	limit, err := l.limits.RateLimitByClient(ctx, clientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		l.storeCached(clientID, cachedLimit{unlimited: true, fetchedAt: now})
		return 0, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("rate limit lookup: %w", err)
	}

	resolved := cachedLimit{limit: int64(limit.RequestsPerDay), fetchedAt: now}
	l.storeCached(clientID, resolved)
	return resolved.limit, false, nil
}

// storeCached writes a cap resolution into the cache.
func (l *Limiter) storeCached(clientID string, entry cachedLimit) {
	l.mu.Lock()
	l.cache[clientID] = entry
	l.mu.Unlock()
}

// Usage returns the client's current consumption without side effects.
func (l *Limiter) Usage(ctx context.Context, clientID string) (*Usage, error) {
	limit, unlimited, err := l.limitFor(ctx, clientID)
	if err != nil {
		return nil, err
	}

	count, err := l.counter.Current(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
	}

	usage := &Usage{
		ClientID:  clientID,
		Requests:  count,
		Unlimited: unlimited,
	}
	if !unlimited {
		usage.Limit = limit
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		usage.Remaining = remaining
	}
	return usage, nil
}

// InvalidateCache drops all cached cap resolutions.
func (l *Limiter) InvalidateCache() {
	l.mu.Lock()
	l.cache = make(map[string]cachedLimit)
	l.mu.Unlock()
}
