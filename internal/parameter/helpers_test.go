package parameter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock. Readings are derived from a real
// time.Now so they keep a monotonic component.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBackend serves values from a map and counts calls per key.
type fakeBackend struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
	delay  time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		values: make(map[string]string),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (b *fakeBackend) Fetch(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	b.calls[key]++
	delay := b.delay
	value, ok := b.values[key]
	err := b.errs[key]
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", NewTransientError(key, ctx.Err())
		}
	}

	if err != nil {
		return "", err
	}
	if !ok {
		return "", NewNotFoundError(key, errors.New("ParameterNotFound"))
	}
	return value, nil
}

func (b *fakeBackend) set(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
}

func (b *fakeBackend) fail(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[key] = err
}

func (b *fakeBackend) recover(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.errs, key)
}

func (b *fakeBackend) callCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

func mustConfig(opts ...ConfigOption) CacheConfig {
	cfg, err := NewCacheConfig(opts...)
	if err != nil {
		panic(err)
	}
	return cfg
}
