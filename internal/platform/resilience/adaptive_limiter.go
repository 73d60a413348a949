package resilience

import (
	"context"
	"sync"
	"time"
)

// AdaptiveLimiter is a RateLimiter whose rate follows backend feedback.
//
// A throttling response multiplies the rate by BackoffFactor (never below
// MinRate). After RecoveryWindow consecutive successes, and at most once per
// second, the rate grows by RecoveryFactor up to MaxRate.
type AdaptiveLimiter struct {
	limiter *RateLimiter
	now     func() time.Time

	baseRate       float64
	minRate        float64
	maxRate        float64
	backoffFactor  float64
	recoveryFactor float64
	recoveryWindow int
	onRateChange   func(rate float64)

	mu             sync.Mutex
	currentRate    float64
	successes      int
	lastAdjustment time.Time
	throttles      int64
}

// AdaptiveLimiterConfig configures the adaptive limiter.
type AdaptiveLimiterConfig struct {
	// BaseRate is the starting rate in requests per second (default: 40,
	// the standard-throughput GetParameter quota)
	BaseRate float64

	// MinRate is the floor for backoff (default: BaseRate / 10)
	MinRate float64

	// MaxRate is the ceiling for recovery (default: BaseRate)
	MaxRate float64

	// Burst is the bucket size (default: BaseRate)
	Burst int

	// BackoffFactor multiplies the rate on throttling (default: 0.5)
	BackoffFactor float64

	// RecoveryFactor multiplies the rate on recovery (default: 1.1)
	RecoveryFactor float64

	// RecoveryWindow is the consecutive successes before a recovery step (default: 10)
	RecoveryWindow int

	// OnRateChange is called with the new rate after every adjustment
	OnRateChange func(rate float64)

	// Now replaces time.Now, for tests
	Now func() time.Time
}

// NewAdaptiveLimiter creates a new adaptive rate limiter.
func NewAdaptiveLimiter(cfg AdaptiveLimiterConfig) *AdaptiveLimiter {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 40
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = cfg.BaseRate / 10
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = cfg.BaseRate
	}
	if cfg.MinRate > cfg.BaseRate {
		cfg.MinRate = cfg.BaseRate
	}
	if cfg.MaxRate < cfg.BaseRate {
		cfg.MaxRate = cfg.BaseRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.BaseRate)
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AdaptiveLimiter{
		limiter:        newRateLimiter(cfg.BaseRate, cfg.Burst, cfg.Now),
		now:            cfg.Now,
		baseRate:       cfg.BaseRate,
		minRate:        cfg.MinRate,
		maxRate:        cfg.MaxRate,
		backoffFactor:  cfg.BackoffFactor,
		recoveryFactor: cfg.RecoveryFactor,
		recoveryWindow: cfg.RecoveryWindow,
		onRateChange:   cfg.OnRateChange,
		currentRate:    cfg.BaseRate,
		lastAdjustment: cfg.Now(),
	}
}

// Wait blocks until the limiter admits a request or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// RecordSuccess counts a successful call and raises the rate once enough
// of them have been seen in a row.
func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successes++
	if a.successes < a.recoveryWindow {
		return
	}
	a.successes = 0

	if a.currentRate >= a.maxRate || a.now().Sub(a.lastAdjustment) < time.Second {
		return
	}
	a.adjust(a.currentRate * a.recoveryFactor)
}

// RecordThrottle lowers the rate after the backend rejected a call for
// exceeding its quota.
func (a *AdaptiveLimiter) RecordThrottle() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.throttles++
	a.successes = 0
	a.adjust(a.currentRate * a.backoffFactor)
}

// RecordError resets the success streak without changing the rate.
func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successes = 0
}

// adjust clamps and applies a new rate. Caller holds mu.
func (a *AdaptiveLimiter) adjust(rate float64) {
	if rate < a.minRate {
		rate = a.minRate
	}
	if rate > a.maxRate {
		rate = a.maxRate
	}
	if rate == a.currentRate {
		return
	}

	a.currentRate = rate
	a.lastAdjustment = a.now()
	a.limiter.SetRate(rate)
	if a.onRateChange != nil {
		a.onRateChange(rate)
	}
}

// CurrentRate returns the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// Throttles returns how many throttling responses have been recorded.
func (a *AdaptiveLimiter) Throttles() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.throttles
}

// IsThrottled reports whether the limiter runs below its base rate.
func (a *AdaptiveLimiter) IsThrottled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate < a.baseRate
}
