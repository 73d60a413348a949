package parameter

import (
	"context"
	"time"

	"github.com/agatticelli/ssm-parameter-cache/internal/platform/observability"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/worker"
)

// WarmupConfig configures start-up loading of parameters.
type WarmupConfig struct {
	// Timeout bounds the whole warmup run
	Timeout time.Duration

	// ContinueOnError keeps loading after a failure (sequential mode only;
	// parallel runs always attempt every parameter)
	ContinueOnError bool

	// Parallelism is the number of concurrent loads. Values above one require
	// a concurrency-safe cache such as SharedCache.
	Parallelism int
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallelism:     4,
	}
}

// WarmupResult is the outcome of loading one parameter.
type WarmupResult struct {
	Parameter string
	Duration  time.Duration
	Err       error
}

// WarmupResults aggregates a warmup run.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any parameter failed to load.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer loads a fixed list of parameters through the cache so the first
// real reads are hits. It goes through the normal Get path; nothing is
// refreshed in the background afterwards.
type Warmer struct {
	cache      Getter
	parameters []string
	logger     *observability.Logger
	metrics    *observability.Metrics
	config     WarmupConfig
}

// NewWarmer creates a warmer for cache.
func NewWarmer(cache Getter, logger *observability.Logger, metrics *observability.Metrics, config WarmupConfig) *Warmer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Warmer{
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// Add registers parameters to load.
func (w *Warmer) Add(names ...string) {
	w.parameters = append(w.parameters, names...)
}

// Warmup loads every registered parameter and reports per-parameter results.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{
		Results: make([]WarmupResult, 0, len(w.parameters)),
	}

	if len(w.parameters) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	warmupCtx := ctx
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		warmupCtx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	if w.config.Parallelism > 1 {
		results.Results = w.warmupParallel(warmupCtx)
	} else {
		results.Results = w.warmupSequential(warmupCtx)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}

	results.TotalTime = time.Since(start)
	w.metrics.RecordWarmup(ctx, results.TotalTime, results.Errors)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, "parameter warmup completed with errors",
			"failed", results.Errors,
			"total", len(w.parameters),
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	} else {
		w.logger.LogInfo(ctx, "parameter warmup completed",
			"total", len(w.parameters),
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	}

	return results
}

// warmupParallel loads parameters on a worker pool.
func (w *Warmer) warmupParallel(ctx context.Context) []WarmupResult {
	pool := worker.NewPoolWithConfig(ctx, worker.PoolConfig{
		Workers:   w.config.Parallelism,
		QueueSize: len(w.parameters),
	})
	defer pool.Close()

	jobs := make([]worker.Job, 0, len(w.parameters))
	for _, name := range w.parameters {
		name := name
		jobs = append(jobs, worker.Job{
			ID: name,
			Execute: func(ctx context.Context) (interface{}, error) {
				result := w.warmupParameter(ctx, name)
				return result, result.Err
			},
		})
	}

	completed := pool.SubmitAndWait(jobs)
	stats := pool.Stats()
	w.logger.LogDebug(ctx, "parameter warmup pool drained",
		"workers", pool.Workers(),
		"submitted", stats.JobsSubmitted,
		"completed", stats.JobsCompleted,
		"failed", stats.JobsFailed,
		"dropped", stats.ResultsDropped,
	)
	results := make([]WarmupResult, 0, len(w.parameters))
	seen := make(map[string]bool, len(completed))
	for _, r := range completed {
		seen[r.JobID] = true
		if wr, ok := r.Value.(WarmupResult); ok {
			results = append(results, wr)
			continue
		}
		results = append(results, WarmupResult{Parameter: r.JobID, Err: r.Err})
	}

	// Parameters the pool never ran (timeout) count as failures.
	for _, name := range w.parameters {
		if !seen[name] {
			results = append(results, WarmupResult{Parameter: name, Err: ctx.Err()})
		}
	}

	return results
}

// warmupSequential loads parameters one at a time.
func (w *Warmer) warmupSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.parameters))

	for _, name := range w.parameters {
		result := w.warmupParameter(ctx, name)
		results = append(results, result)

		if result.Err != nil && !w.config.ContinueOnError {
			break
		}
	}

	return results
}

// warmupParameter loads a single parameter.
func (w *Warmer) warmupParameter(ctx context.Context, name string) WarmupResult {
	start := time.Now()
	_, err := w.cache.Get(ctx, name, false)
	duration := time.Since(start)

	if err != nil {
		w.logger.LogWarn(ctx, "parameter warmup failed",
			"parameter", name,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		w.logger.LogDebug(ctx, "parameter warmed", "parameter", name, "duration_ms", duration.Milliseconds())
	}

	return WarmupResult{
		Parameter: name,
		Duration:  duration,
		Err:       err,
	}
}
