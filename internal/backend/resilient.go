package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/observability"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/resilience"
)

// ResilientConfig configures a ResilientBackend. Zero-valued parts are
// disabled, except Retry which falls back to resilience.DefaultRetryConfig.
type ResilientConfig struct {
	Retry          resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreakerConfig
	RateLimit      *resilience.AdaptiveLimiterConfig
	MaxConcurrent  int64

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// ResilientBackend guards another backend. Each Fetch passes, from the
// outside in, a concurrency cap, the circuit breaker, and a retry loop whose
// attempts each wait for the rate limiter.
//
// Only transient failures are retried. NotFound answers count as healthy
// responses for the breaker. Throttling responses slow the rate limiter
// down.
type ResilientBackend struct {
	next    parameter.Backend
	name    string
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	limiter *resilience.AdaptiveLimiter
	sem     *semaphore.Weighted
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResilientBackend wraps next.
func NewResilientBackend(next parameter.Backend, cfg ResilientConfig) *ResilientBackend {
	name := NameOf(next)
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	r := &ResilientBackend{
		next:    next,
		name:    name,
		retry:   cfg.Retry,
		logger:  logger.Component("backend/" + name),
		metrics: cfg.Metrics,
	}

	if r.retry.MaxAttempts == 0 {
		r.retry = resilience.DefaultRetryConfig()
	}
	r.retry.Retryable = parameter.IsTransient
	r.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.metrics.RecordBackendRetry(context.Background(), name)
		r.logger.Debug("retrying parameter fetch", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	}

	if cfg.CircuitBreaker != nil {
		cbCfg := *cfg.CircuitBreaker
		if cbCfg.Name == "" {
			cbCfg.Name = name
		}
		cbCfg.IsFailure = countsAsOutage
		onChange := cbCfg.OnStateChange
		cbCfg.OnStateChange = func(from, to resilience.State) {
			r.metrics.SetCircuitBreakerState(context.Background(), cbCfg.Name, int64(to))
			r.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(from, to)
			}
		}
		r.breaker = resilience.NewCircuitBreaker(cbCfg)
		r.metrics.SetCircuitBreakerState(context.Background(), cbCfg.Name, int64(r.breaker.State()))
	}

	if cfg.RateLimit != nil {
		rlCfg := *cfg.RateLimit
		onChange := rlCfg.OnRateChange
		rlCfg.OnRateChange = func(rate float64) {
			r.metrics.SetRateLimit(context.Background(), name, rate)
			if onChange != nil {
				onChange(rate)
			}
		}
		r.limiter = resilience.NewAdaptiveLimiter(rlCfg)
		r.metrics.SetRateLimit(context.Background(), name, r.limiter.CurrentRate())
	}

	if cfg.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}

	return r
}

// countsAsOutage reports whether err says the backend is unhealthy. Answers
// about a single parameter, such as NotFound or AccessDenied, do not.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch parameter.KindOf(err) {
	case parameter.KindNotFound:
		return false
	case parameter.KindOther:
		return !isClientError(err)
	}
	return true
}

// Fetch implements parameter.Backend.
func (r *ResilientBackend) Fetch(ctx context.Context, key string) (string, error) {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return "", parameter.NewTransientError(key, err)
		}
		defer r.sem.Release(1)
	}

	if r.breaker == nil {
		return r.fetchWithRetry(ctx, key)
	}

	value, err := resilience.Call(ctx, r.breaker, func(ctx context.Context) (string, error) {
		return r.fetchWithRetry(ctx, key)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", parameter.NewTransientError(key, fmt.Errorf("%s: %w", r.name, err))
	}
	return value, err
}

func (r *ResilientBackend) fetchWithRetry(ctx context.Context, key string) (string, error) {
	return resilience.Retry(ctx, r.retry, func(ctx context.Context) (string, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", parameter.NewTransientError(key, fmt.Errorf("rate limiter: %w", err))
			}
		}

		value, err := r.next.Fetch(ctx, key)
		r.observe(err)
		return value, err
	})
}

// observe feeds one attempt's outcome to the rate limiter.
func (r *ResilientBackend) observe(err error) {
	if r.limiter == nil {
		return
	}
	switch {
	case err == nil, errors.Is(err, parameter.ErrNotFound):
		r.limiter.RecordSuccess()
	case errors.Is(err, parameter.ErrThrottled):
		r.limiter.RecordThrottle()
	default:
		r.limiter.RecordError()
	}
}

// Name implements Named.
func (r *ResilientBackend) Name() string {
	return r.name
}

// BreakerState returns the circuit breaker state, or StateClosed if the
// breaker is disabled.
func (r *ResilientBackend) BreakerState() resilience.State {
	if r.breaker == nil {
		return resilience.StateClosed
	}
	return r.breaker.State()
}

// Ready reports whether the backend currently accepts calls.
func (r *ResilientBackend) Ready() bool {
	return r.BreakerState() != resilience.StateOpen
}
