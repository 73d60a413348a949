package parameter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SharedCache makes a Cache safe for concurrent use.
//
// By default every Get holds one mutex for its whole duration, including the
// backend call, so callers are fully serialized. WithCoalescing moves the
// backend call outside the lock and lets concurrent refreshes of the same key
// share one fetch.
type SharedCache struct {
	mu           sync.Mutex
	cache        *Cache
	coalesce     bool
	fetchTimeout time.Duration
	group        singleflight.Group
}

// DefaultFetchTimeout bounds a shared fetch when WithFetchTimeout is not set.
const DefaultFetchTimeout = 30 * time.Second

// SharedOption configures a SharedCache.
type SharedOption func(*SharedCache)

// WithCoalescing shares one backend fetch between concurrent non-forced
// refreshes of the same key. Forced refreshes always reach the backend and
// race each other; the last one to finish is what stays cached.
func WithCoalescing() SharedOption {
	return func(s *SharedCache) {
		s.coalesce = true
	}
}

// WithFetchTimeout bounds a coalesced fetch. A shared fetch is detached from
// the cancellation of the caller that started it, so this is its only limit.
func WithFetchTimeout(d time.Duration) SharedOption {
	return func(s *SharedCache) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// NewSharedCache wraps c. The caller must not use c directly afterwards.
func NewSharedCache(c *Cache, opts ...SharedOption) *SharedCache {
	s := &SharedCache{cache: c, fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get is Cache.Get made safe for concurrent callers.
func (s *SharedCache) Get(ctx context.Context, key string, forceRefresh bool) (string, error) {
	if !s.coalesce {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cache.Get(ctx, key, forceRefresh)
	}

	if forceRefresh {
		s.cache.stats.forced.Add(1)
		s.cache.metrics.RecordCacheRequest(ctx, outcomeForced)
		return s.refreshUnlocked(ctx, key)
	}

	s.mu.Lock()
	value, ok := s.cache.lookup(ctx, key)
	s.mu.Unlock()
	if ok {
		return value, nil
	}

	// The shared fetch keeps the first caller's context values but not its
	// cancellation. Each caller stops waiting on its own ctx.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.refreshUnlocked(fetchCtx, key)
	})

	select {
	case <-ctx.Done():
		return "", NewTransientError(key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refreshUnlocked fetches without holding the lock and stores the result under it.
func (s *SharedCache) refreshUnlocked(ctx context.Context, key string) (string, error) {
	value, err := s.cache.fetch(ctx, key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache.put(ctx, key, value)
	s.mu.Unlock()
	return value, nil
}

// GetParameter starts a request for the named parameter.
func (s *SharedCache) GetParameter(name string) *GetParameterRequest {
	return NewRequest(s, name)
}

// Stats returns a snapshot of cache activity.
func (s *SharedCache) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Stats()
}

// Len returns the number of cached parameters.
func (s *SharedCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
