// Package app assembles the parameter cache and its backends from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/agatticelli/ssm-parameter-cache/internal/backend"
	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/aws"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/config"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/observability"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/resilience"
)

// App is a configured parameter cache with its backends and observability.
type App struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracing *observability.TracerProvider
	Cache   *parameter.SharedCache
	Backend *backend.ResilientBackend

	closers []func() error
}

// Option customises New.
type Option func(*options)

type options struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	source  parameter.Backend
}

// WithLogger uses logger instead of one built from the logging config.
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics uses metrics instead of creating a Prometheus exporter.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithSource replaces the configured backend chain with source. The
// resilience wrapper is still applied.
func WithSource(source parameter.Backend) Option {
	return func(o *options) { o.source = source }
}

// New builds the application. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: o.logger, Metrics: o.metrics}
	fail := func(err error) (*App, error) {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	if a.Logger == nil {
		a.Logger = observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	}

	if a.Metrics == nil {
		metrics, err := observability.NewMetrics(cfg.Observability.ServiceName, cfg.Observability.Metrics.Enabled)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		a.Metrics = metrics
	}

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Enabled:     cfg.Observability.Tracing.Enabled,
		SampleRatio: cfg.Observability.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	a.Tracing = tp

	source := o.source
	if source == nil {
		source, err = a.buildSource(ctx)
		if err != nil {
			return fail(err)
		}
	}

	a.Backend = backend.NewResilientBackend(source, a.resilientConfig())

	cacheCfg, err := parameter.NewCacheConfig(
		parameter.WithMaxCacheSize(cfg.Cache.MaxSize),
		parameter.WithCacheItemTTL(cfg.Cache.ItemTTL),
	)
	if err != nil {
		return fail(err)
	}

	c, err := parameter.NewCache(a.Backend, cacheCfg,
		parameter.WithLogger(a.Logger.Component("cache")),
		parameter.WithMetrics(a.Metrics),
		parameter.WithTracer(tp.Tracer()),
		parameter.WithBackendName(a.Backend.Name()),
	)
	if err != nil {
		return fail(err)
	}

	var sharedOpts []parameter.SharedOption
	if cfg.Cache.Coalesce {
		sharedOpts = append(sharedOpts,
			parameter.WithCoalescing(),
			parameter.WithFetchTimeout(cfg.Cache.FetchTimeout),
		)
	}
	a.Cache = parameter.NewSharedCache(c, sharedOpts...)

	a.Logger.Info("parameter cache ready",
		"backend", a.Backend.Name(),
		"max_size", cfg.Cache.MaxSize,
		"item_ttl", cfg.Cache.ItemTTL.String(),
		"coalesce", cfg.Cache.Coalesce,
	)
	return a, nil
}

// buildSource creates the primary backend and its fallbacks.
func (a *App) buildSource(ctx context.Context) (parameter.Backend, error) {
	var (
		awsCfg    awssdk.Config
		awsLoaded bool
		sources   []parameter.Backend
	)

	loadAWS := func() (awssdk.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		cfg, err := aws.LoadAWSConfig(ctx, aws.Config{
			Region:      a.Config.AWS.Region,
			Endpoint:    a.Config.AWS.Endpoint,
			MaxAttempts: a.Config.AWS.MaxAttempts,
		})
		if err != nil {
			return awssdk.Config{}, err
		}
		awsCfg, awsLoaded = cfg, true
		return awsCfg, nil
	}

	bc := a.Config.Backend
	for _, kind := range a.Config.Backends() {
		switch kind {
		case "ssm":
			cfg, err := loadAWS()
			if err != nil {
				return nil, err
			}
			sources = append(sources, backend.NewSSMBackend(cfg, backend.WithDecryption(bc.WithDecryption)))

		case "dynamodb":
			cfg, err := loadAWS()
			if err != nil {
				return nil, err
			}
			b, err := backend.NewDynamoDBBackend(cfg, backend.DynamoDBConfig{
				TableName:      bc.DynamoDB.Table,
				KeyAttribute:   bc.DynamoDB.KeyAttribute,
				ValueAttribute: bc.DynamoDB.ValueAttribute,
				ConsistentRead: bc.DynamoDB.ConsistentRead,
			})
			if err != nil {
				return nil, err
			}
			sources = append(sources, b)

		case "redis":
			b, err := backend.NewRedisBackend(ctx, backend.RedisConfig{
				Addr:     bc.Redis.Address,
				Password: bc.Redis.Password,
				DB:       bc.Redis.DB,
				Prefix:   bc.Redis.Prefix,
			})
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, b.Close)
			sources = append(sources, b)

		default:
			return nil, fmt.Errorf("%w: unknown backend type %q", parameter.ErrInvalidConfig, kind)
		}
	}

	if len(sources) == 1 {
		return sources[0], nil
	}
	return backend.NewChain(sources...)
}

func (a *App) resilientConfig() backend.ResilientConfig {
	bc := a.Config.Backend
	rc := backend.ResilientConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts: bc.Retry.MaxAttempts,
			BaseDelay:   bc.Retry.BaseDelay,
			MaxDelay:    bc.Retry.MaxDelay,
			Jitter:      bc.Retry.Jitter,
		},
		MaxConcurrent: bc.MaxConcurrent,
		Logger:        a.Logger,
		Metrics:       a.Metrics,
	}

	if bc.CircuitBreaker.Enabled {
		rc.CircuitBreaker = &resilience.CircuitBreakerConfig{
			FailureThreshold: bc.CircuitBreaker.FailureThreshold,
			SuccessThreshold: bc.CircuitBreaker.SuccessThreshold,
			Timeout:          bc.CircuitBreaker.Timeout,
		}
	}
	if bc.RateLimit.Enabled {
		rc.RateLimit = &resilience.AdaptiveLimiterConfig{
			BaseRate: bc.RateLimit.RequestsPerSecond,
			MinRate:  bc.RateLimit.MinPerSecond,
			Burst:    bc.RateLimit.Burst,
		}
	}
	return rc
}

// Warmup loads the configured warmup parameters. It returns an error only
// when warmup.fail_on_error is set and a parameter failed.
func (a *App) Warmup(ctx context.Context) (*parameter.WarmupResults, error) {
	wc := a.Config.Warmup
	w := parameter.NewWarmer(a.Cache, a.Logger.Component("warmup"), a.Metrics, parameter.WarmupConfig{
		Timeout:         wc.Timeout,
		ContinueOnError: wc.ContinueOnError,
		Parallelism:     wc.Parallelism,
	})
	w.Add(wc.Parameters...)

	results := w.Warmup(ctx)
	if results.HasErrors() && wc.FailOnError {
		return results, fmt.Errorf("warmup failed for %d of %d parameters", results.Errors, len(wc.Parameters))
	}
	return results, nil
}

// Ready reports whether the backend is accepting calls.
func (a *App) Ready() bool {
	return a.Backend != nil && a.Backend.Ready()
}

// Close releases backend connections and flushes traces.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Tracing != nil {
		if err := a.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
