// Package worker provides a fixed-size worker pool for concurrent task execution.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker: pool closed")

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID identifies the job in its Result
	ID string
	// Execute is the function to run
	Execute func(ctx context.Context) (interface{}, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	JobID string
	Value interface{}
	Err   error
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers is the number of goroutines (default 1)
	Workers int
	// QueueSize buffers both the job queue and the results channel (default 0)
	QueueSize int
}

// Stats holds pool counters.
type Stats struct {
	JobsSubmitted  int64
	JobsCompleted  int64
	JobsFailed     int64
	ResultsDropped int64
}

// Pool is a worker pool that processes jobs concurrently.
type Pool struct {
	workers  int
	jobQueue chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	closeOnce sync.Once
	closed    atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPoolWithConfig creates a pool and starts its workers.
//
//	pool := worker.NewPoolWithConfig(ctx, worker.PoolConfig{Workers: 4, QueueSize: 16})
//	defer pool.Close()
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:  cfg.Workers,
		jobQueue: make(chan Job, cfg.QueueSize),
		results:  make(chan Result, cfg.QueueSize),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}

			value, err := job.Execute(p.ctx)
			p.completed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}

			// Results are dropped rather than blocking a worker.
			select {
			case p.results <- Result{JobID: job.ID, Value: value, Err: err}:
			default:
				p.dropped.Add(1)
			}
		}
	}
}

// Submit queues a job, blocking while the queue is full.
func (p *Pool) Submit(job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	}
}

// SubmitAndWait submits jobs and collects one result per accepted job,
// in completion order. The pool's queue size must be at least len(jobs)
// or results may be dropped.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	accepted := 0
	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			break
		}
		accepted++
	}

	results := make([]Result, 0, accepted)
	for i := 0; i < accepted; i++ {
		select {
		case <-p.ctx.Done():
			return results
		case result := <-p.results:
			results = append(results, result)
		}
	}

	return results
}

// Close stops accepting jobs, cancels running ones, and waits for workers.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
		p.wg.Wait()
		close(p.results)
	})
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted:  p.submitted.Load(),
		JobsCompleted:  p.completed.Load(),
		JobsFailed:     p.failed.Load(),
		ResultsDropped: p.dropped.Load(),
	}
}
