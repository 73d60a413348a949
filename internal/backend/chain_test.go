package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

func TestChain_FallsThroughOnNotFound(t *testing.T) {
	primary := &scriptedBackend{name: "ssm", results: []result{notFound("k")}}
	fallback := &scriptedBackend{name: "redis", results: []result{ok("from-redis")}}
	chain, err := NewChain(primary, fallback)
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}

	value, err := chain.Fetch(context.Background(), "k")
	if err != nil || value != "from-redis" {
		t.Fatalf("Expected fallback value, got %q (%v)", value, err)
	}
	if chain.Name() != "ssm>redis" {
		t.Errorf("Expected name ssm>redis, got %q", chain.Name())
	}

	t.Log("✓ Chain falls through to the next backend on NotFound")
}

func TestChain_StopsOnOtherErrors(t *testing.T) {
	primary := &scriptedBackend{name: "ssm", results: []result{transient("k")}}
	fallback := &scriptedBackend{name: "redis", results: []result{ok("stale")}}
	chain, _ := NewChain(primary, fallback)

	_, err := chain.Fetch(context.Background(), "k")
	if !errors.Is(err, parameter.ErrTransient) {
		t.Errorf("Expected primary failure, got %v", err)
	}
	if fallback.callCount() != 0 {
		t.Error("Expected fallback not to be consulted on a primary outage")
	}
}

func TestChain_AllNotFound(t *testing.T) {
	a := &scriptedBackend{name: "a", results: []result{notFound("k")}}
	b := &scriptedBackend{name: "b", results: []result{notFound("k")}}
	chain, _ := NewChain(a, b)

	if _, err := chain.Fetch(context.Background(), "k"); !errors.Is(err, parameter.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestChain_RequiresBackend(t *testing.T) {
	if _, err := NewChain(); !errors.Is(err, parameter.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestNameOf_Unnamed(t *testing.T) {
	b := parameter.BackendFunc(func(ctx context.Context, key string) (string, error) { return "", nil })
	if NameOf(b) != "backend" {
		t.Errorf("Expected default name, got %q", NameOf(b))
	}
}
