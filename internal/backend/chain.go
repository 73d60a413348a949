package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

// Chain tries its backends in order and returns the first value found.
// A NotFound answer moves on to the next backend; any other failure is
// returned immediately, so an outage of the primary source is never hidden
// behind an older value in a fallback.
type Chain struct {
	backends []parameter.Backend
}

// NewChain creates a chain over backends, tried first to last.
func NewChain(backends ...parameter.Backend) (*Chain, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: chain needs at least one backend", parameter.ErrInvalidConfig)
	}
	return &Chain{backends: backends}, nil
}

// Fetch implements parameter.Backend.
func (c *Chain) Fetch(ctx context.Context, key string) (string, error) {
	var lastErr error
	for _, b := range c.backends {
		value, err := b.Fetch(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, parameter.ErrNotFound) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// Name joins the member names, e.g. "ssm>dynamodb".
func (c *Chain) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = NameOf(b)
	}
	return strings.Join(names, ">")
}
