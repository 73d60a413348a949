package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPoolWithConfig_Defaults(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 0, QueueSize: -5})
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("Expected 1 worker (default), got %d", pool.Workers())
	}
}

func TestPool_Submit_Success(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 2, QueueSize: 10})
	defer pool.Close()

	resultCh := make(chan int, 1)
	err := pool.Submit(Job{
		ID: "test-job",
		Execute: func(ctx context.Context) (interface{}, error) {
			resultCh <- 42
			return 42, nil
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case result := <-resultCh:
		if result != 42 {
			t.Errorf("Expected 42, got %d", result)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for job execution")
	}
}

func TestPool_Submit_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPoolWithConfig(ctx, PoolConfig{Workers: 1, QueueSize: 0})
	defer pool.Close()

	cancel()

	err := pool.Submit(Job{ID: "late", Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPool_SubmitAndWait(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 3, QueueSize: 10})
	defer pool.Close()

	jobs := make([]Job, 5)
	for i := range jobs {
		n := i
		jobs[i] = Job{
			ID: string(rune('a' + n)),
			Execute: func(ctx context.Context) (interface{}, error) {
				if n == 4 {
					return nil, errors.New("job failed")
				}
				return n * n, nil
			},
		}
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(results))
	}

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("Expected 1 failed job, got %d", failures)
	}

	stats := pool.Stats()
	if stats.JobsSubmitted != 5 || stats.JobsCompleted != 5 || stats.JobsFailed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 4, QueueSize: 100})
	defer pool.Close()

	var executed atomic.Int64
	var wg sync.WaitGroup
	var done sync.WaitGroup
	done.Add(100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Submit(Job{Execute: func(ctx context.Context) (interface{}, error) {
				executed.Add(1)
				done.Done()
				return nil, nil
			}})
		}()
	}
	wg.Wait()

	finished := make(chan struct{})
	go func() {
		done.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Concurrent submit timed out")
	}

	if executed.Load() != 100 {
		t.Errorf("Expected 100 executed jobs, got %d", executed.Load())
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 1, QueueSize: 1})
	pool.Close()
	pool.Close()

	err := pool.Submit(Job{Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}

	t.Log("✓ Closed pool rejects new jobs and Close is idempotent")
}
