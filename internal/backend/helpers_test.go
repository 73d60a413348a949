package backend

import (
	"context"
	"sync"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

// scriptedBackend returns queued results in order, then repeats the last one.
type scriptedBackend struct {
	mu      sync.Mutex
	name    string
	results []result
	calls   int
}

type result struct {
	value string
	err   error
}

func (b *scriptedBackend) Fetch(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.calls
	if i >= len(b.results) {
		i = len(b.results) - 1
	}
	b.calls++
	return b.results[i].value, b.results[i].err
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func ok(value string) result { return result{value: value} }

func notFound(key string) result {
	return result{err: parameter.NewNotFoundError(key, nil)}
}

func transient(key string) result {
	return result{err: parameter.NewTransientError(key, nil)}
}

func throttled(key string) result {
	return result{err: parameter.NewThrottledError(key, nil)}
}

func other(key string) result {
	return result{err: parameter.NewBackendError(key, nil)}
}
