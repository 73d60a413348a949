package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metrics holds all parameter cache metrics.
// A nil *Metrics, or one built with metrics disabled, records nothing.
type Metrics struct {
	meter metric.Meter

	// Cache lookup metrics
	CacheRequests metric.Int64Counter
	CacheEntries  metric.Int64Gauge
	Evictions     metric.Int64Counter

	// Backend metrics
	BackendCalls    metric.Int64Counter
	BackendDuration metric.Float64Histogram
	BackendRetries  metric.Int64Counter

	// Resilience metrics
	CircuitBreakerState metric.Int64Gauge
	RateLimitRate       metric.Float64Gauge

	// Warmup metrics
	WarmupDuration metric.Float64Histogram
	WarmupFailures metric.Int64Counter

	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance exported through Prometheus
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheRequests, err = m.meter.Int64Counter(
		"paramcache.cache.requests",
		metric.WithDescription("Parameter lookups by outcome (hit, miss, stale, forced)"),
	)
	if err != nil {
		return err
	}

	m.CacheEntries, err = m.meter.Int64Gauge(
		"paramcache.cache.entries",
		metric.WithDescription("Number of parameters currently cached"),
	)
	if err != nil {
		return err
	}

	m.Evictions, err = m.meter.Int64Counter(
		"paramcache.cache.evictions",
		metric.WithDescription("Parameters evicted to make room for new ones"),
	)
	if err != nil {
		return err
	}

	m.BackendCalls, err = m.meter.Int64Counter(
		"paramcache.backend.calls",
		metric.WithDescription("Backend fetches by backend and status"),
	)
	if err != nil {
		return err
	}

	m.BackendDuration, err = m.meter.Float64Histogram(
		"paramcache.backend.duration",
		metric.WithDescription("Backend fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.BackendRetries, err = m.meter.Int64Counter(
		"paramcache.backend.retries",
		metric.WithDescription("Backend fetch attempts beyond the first"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"paramcache.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.RateLimitRate, err = m.meter.Float64Gauge(
		"paramcache.rate_limit.rate",
		metric.WithDescription("Current backend request rate limit in requests per second"),
	)
	if err != nil {
		return err
	}

	m.WarmupDuration, err = m.meter.Float64Histogram(
		"paramcache.warmup.duration",
		metric.WithDescription("Cache warmup duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.WarmupFailures, err = m.meter.Int64Counter(
		"paramcache.warmup.failures",
		metric.WithDescription("Parameters that failed to load during warmup"),
	)
	if err != nil {
		return err
	}

	return nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.meter != nil
}

// RecordCacheRequest records the outcome of a lookup
func (m *Metrics) RecordCacheRequest(ctx context.Context, outcome string) {
	if !m.enabled() {
		return
	}
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SetCacheEntries records the current number of cached parameters
func (m *Metrics) SetCacheEntries(ctx context.Context, entries int) {
	if !m.enabled() {
		return
	}
	m.CacheEntries.Record(ctx, int64(entries))
}

// RecordEviction records an LRU eviction
func (m *Metrics) RecordEviction(ctx context.Context) {
	if !m.enabled() {
		return
	}
	m.Evictions.Add(ctx, 1)
}

// RecordBackendCall records a single backend fetch
func (m *Metrics) RecordBackendCall(ctx context.Context, backend, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("status", status),
	}

	m.BackendCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.BackendDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordBackendRetry records a retried backend fetch
func (m *Metrics) RecordBackendRetry(ctx context.Context, backend string) {
	if !m.enabled() {
		return
	}
	m.BackendRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if !m.enabled() {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// SetRateLimit records the current backend rate limit
func (m *Metrics) SetRateLimit(ctx context.Context, backend string, rate float64) {
	if !m.enabled() {
		return
	}
	m.RateLimitRate.Record(ctx, rate, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordWarmup records a completed warmup run
func (m *Metrics) RecordWarmup(ctx context.Context, duration time.Duration, failures int) {
	if !m.enabled() {
		return
	}
	m.WarmupDuration.Record(ctx, float64(duration.Milliseconds()))
	if failures > 0 {
		m.WarmupFailures.Add(ctx, int64(failures))
	}
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	// The OpenTelemetry Prometheus exporter registers with the default
	// Prometheus registry, so the standard handler serves its metrics.
	return promhttp.Handler()
}
