// Package parameter implements a read-through cache for remote parameters.
//
// A Cache serves a parameter from memory while it is younger than the
// configured TTL and otherwise fetches it synchronously from a Backend.
// Entries are bounded by an LRU policy. Cache itself is not safe for
// concurrent use; share one through SharedCache.
package parameter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agatticelli/ssm-parameter-cache/internal/platform/cache"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/observability"
)

// Backend fetches the current value of a parameter from the remote store.
//
// Failures should be *BackendError values (see NewNotFoundError and
// friends) so callers can tell missing parameters from transient failures.
type Backend interface {
	Fetch(ctx context.Context, key string) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, key string) (string, error)

// Fetch calls f(ctx, key).
func (f BackendFunc) Fetch(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// Clock supplies the current time. Readings must carry a monotonic component
// (time.Now does) so entry age never goes negative.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Lookup outcomes, used for metrics and logging.
const (
	outcomeHit    = "hit"
	outcomeMiss   = "miss"
	outcomeStale  = "stale"
	outcomeForced = "forced"
)

// Cache is the read-through parameter cache.
type Cache struct {
	backend     Backend
	backendName string
	config      CacheConfig
	store       *cache.MemoryStore
	clock       Clock

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	stats cacheCounters
}

type cacheCounters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	stale     atomic.Int64
	forced    atomic.Int64
	refreshes atomic.Int64
	failures  atomic.Int64
	evictions atomic.Int64
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Stale     int64 `json:"stale"`
	Forced    int64 `json:"forced"`
	Refreshes int64 `json:"refreshes"`
	Failures  int64 `json:"failures"`
	Evictions int64 `json:"evictions"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithLogger enables debug/warn logging of refreshes.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics enables cache metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Cache) {
		c.metrics = metrics
	}
}

// WithTracer wraps backend fetches in spans.
func WithTracer(tracer observability.Tracer) Option {
	return func(c *Cache) {
		c.tracer = tracer
	}
}

// WithBackendName sets the backend label used in metrics and spans.
func WithBackendName(name string) Option {
	return func(c *Cache) {
		c.backendName = name
	}
}

// NewCache creates an empty cache in front of backend.
func NewCache(backend Backend, cfg CacheConfig, opts ...Option) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		backend:     backend,
		backendName: "backend",
		config:      cfg,
		clock:       systemClock{},
		tracer:      observability.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.store = cache.NewMemoryStore(cfg.MaxCacheSize(), cache.WithEvictionCallback(c.onEvict))
	return c, nil
}

// Get returns the value of key, fetching it from the backend when it is not
// cached, is stale, or forceRefresh is set.
//
// A failed fetch leaves any previously cached value in place and returns the
// backend error; a stale value is never returned in its stead.
func (c *Cache) Get(ctx context.Context, key string, forceRefresh bool) (string, error) {
	if forceRefresh {
		c.stats.forced.Add(1)
		c.metrics.RecordCacheRequest(ctx, outcomeForced)
		return c.refresh(ctx, key)
	}

	if value, ok := c.lookup(ctx, key); ok {
		return value, nil
	}
	return c.refresh(ctx, key)
}

// lookup returns the cached value of key if it is present and fresh.
func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	entry, ok := c.store.Get(key)
	if !ok {
		c.stats.misses.Add(1)
		c.metrics.RecordCacheRequest(ctx, outcomeMiss)
		return "", false
	}

	if !cache.IsFresh(entry.FetchedAt, c.clock.Now(), c.config.CacheItemTTL()) {
		c.stats.stale.Add(1)
		c.metrics.RecordCacheRequest(ctx, outcomeStale)
		return "", false
	}

	c.stats.hits.Add(1)
	c.metrics.RecordCacheRequest(ctx, outcomeHit)
	return entry.Value, true
}

// refresh fetches key and stores the result on success.
func (c *Cache) refresh(ctx context.Context, key string) (string, error) {
	value, err := c.fetch(ctx, key)
	if err != nil {
		return "", err
	}

	c.put(ctx, key, value)
	return value, nil
}

// put records value as fetched now.
func (c *Cache) put(ctx context.Context, key, value string) {
	c.store.Put(key, value, c.clock.Now())
	c.stats.refreshes.Add(1)
	c.metrics.SetCacheEntries(ctx, c.store.Len())
}

// fetch calls the backend. It touches no store state, so SharedCache can run
// it outside its lock.
func (c *Cache) fetch(ctx context.Context, key string) (string, error) {
	ctx, span := c.tracer.StartSpan(ctx, "parameter.fetch",
		observability.WithSpanKind(trace.SpanKindClient),
		observability.WithAttributes(
			attribute.String("parameter.name", key),
			attribute.String("parameter.backend", c.backendName),
		),
	)
	defer span.End()

	start := time.Now()
	value, err := c.backend.Fetch(ctx, key)
	duration := time.Since(start)

	if err != nil {
		c.stats.failures.Add(1)
		span.NoticeError(err)
		c.metrics.RecordBackendCall(ctx, c.backendName, KindOf(err).String(), duration)
		if c.logger != nil {
			c.logger.LogWarn(ctx, "parameter fetch failed",
				"parameter", key,
				"kind", KindOf(err).String(),
				"error", err,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return "", err
	}

	c.metrics.RecordBackendCall(ctx, c.backendName, "success", duration)
	if c.logger != nil {
		c.logger.LogDebug(ctx, "parameter fetched",
			"parameter", key,
			"duration_ms", duration.Milliseconds(),
		)
	}
	return value, nil
}

func (c *Cache) onEvict(key string) {
	c.stats.evictions.Add(1)
	c.metrics.RecordEviction(context.Background())
	if c.logger != nil {
		c.logger.LogDebug(context.Background(), "parameter evicted", "parameter", key)
	}
}

// Peek returns the stored entry for key without refreshing it or changing its recency.
func (c *Cache) Peek(key string) (cache.Entry, bool) {
	return c.store.Peek(key)
}

// Len returns the number of cached parameters.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Config returns the configuration the cache was built with.
func (c *Cache) Config() CacheConfig {
	return c.config
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.store.Len(),
		Capacity:  c.store.Cap(),
		Hits:      c.stats.hits.Load(),
		Misses:    c.stats.misses.Load(),
		Stale:     c.stats.stale.Load(),
		Forced:    c.stats.forced.Load(),
		Refreshes: c.stats.refreshes.Load(),
		Failures:  c.stats.failures.Load(),
		Evictions: c.stats.evictions.Load(),
	}
}
