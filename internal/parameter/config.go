package parameter

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxCacheSize is the number of parameters kept when no size is configured
	DefaultMaxCacheSize = 1024

	// DefaultCacheItemTTL is how long a fetched value is served before it is refreshed
	DefaultCacheItemTTL = time.Hour
)

// CacheConfig holds the cache sizing and staleness limits.
// It is immutable once built; use NewCacheConfig or DefaultCacheConfig.
type CacheConfig struct {
	maxCacheSize int
	cacheItemTTL time.Duration
}

// ConfigOption overrides one CacheConfig field.
type ConfigOption func(*CacheConfig)

// WithMaxCacheSize sets the maximum number of cached parameters. Must be > 0.
func WithMaxCacheSize(size int) ConfigOption {
	return func(c *CacheConfig) {
		c.maxCacheSize = size
	}
}

// WithCacheItemTTL sets how long a value stays fresh. Zero means every read refreshes.
func WithCacheItemTTL(ttl time.Duration) ConfigOption {
	return func(c *CacheConfig) {
		c.cacheItemTTL = ttl
	}
}

// DefaultCacheConfig returns the default configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		maxCacheSize: DefaultMaxCacheSize,
		cacheItemTTL: DefaultCacheItemTTL,
	}
}

// NewCacheConfig applies opts on top of the defaults and validates the result.
func NewCacheConfig(opts ...ConfigOption) (CacheConfig, error) {
	cfg := DefaultCacheConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return CacheConfig{}, err
	}
	return cfg, nil
}

// Validate rejects sizes below one and negative TTLs.
//
// A size of zero would make the cache a pass-through that never retains a
// value; it is rejected instead of being read as "unbounded".
func (c CacheConfig) Validate() error {
	if c.maxCacheSize <= 0 {
		return fmt.Errorf("%w: max cache size must be > 0, got %d", ErrInvalidConfig, c.maxCacheSize)
	}
	if c.cacheItemTTL < 0 {
		return fmt.Errorf("%w: cache item ttl must be >= 0, got %v", ErrInvalidConfig, c.cacheItemTTL)
	}
	return nil
}

// MaxCacheSize returns the maximum number of cached parameters.
func (c CacheConfig) MaxCacheSize() int {
	return c.maxCacheSize
}

// CacheItemTTL returns how long a fetched value stays fresh.
func (c CacheConfig) CacheItemTTL() time.Duration {
	return c.cacheItemTTL
}
