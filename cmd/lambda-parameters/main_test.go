package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/agatticelli/ssm-parameter-cache/internal/app"
	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/config"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/observability"
	"github.com/agatticelli/ssm-parameter-cache/internal/server"
)

type stubCache struct {
	values map[string]string
	forced bool
}

func (s *stubCache) Get(ctx context.Context, key string, forceRefresh bool) (string, error) {
	s.forced = forceRefresh
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", parameter.NewNotFoundError(key, nil)
}

func TestHandle(t *testing.T) {
	cache := &stubCache{values: map[string]string{"/app/key": "secret"}}

	resp := handle(context.Background(), cache, events.APIGatewayV2HTTPRequest{
		QueryStringParameters: map[string]string{"name": "/app/key", "force_refresh": "true"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	var body server.ParameterResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Name != "/app/key" || body.Value != "secret" {
		t.Errorf("Expected /app/key=secret, got %+v", body)
	}
	if !cache.forced {
		t.Error("Expected force_refresh to reach the cache")
	}

	t.Log("✓ Lambda handler serves parameters")
}

func TestHandle_Errors(t *testing.T) {
	cache := &stubCache{}

	tests := []struct {
		req    events.APIGatewayV2HTTPRequest
		status int
	}{
		{events.APIGatewayV2HTTPRequest{}, http.StatusBadRequest},
		{events.APIGatewayV2HTTPRequest{PathParameters: map[string]string{"name": "x"}, QueryStringParameters: map[string]string{"force_refresh": "yes please"}}, http.StatusBadRequest},
		{events.APIGatewayV2HTTPRequest{PathParameters: map[string]string{"name": "missing"}}, http.StatusNotFound},
	}

	for i, tt := range tests {
		if resp := handle(context.Background(), cache, tt.req); resp.StatusCode != tt.status {
			t.Errorf("case %d: expected %d, got %d", i, tt.status, resp.StatusCode)
		}
	}
}

// flakySource fails the first failures calls with a transient error.
type flakySource struct {
	calls    atomic.Int64
	failures int64
	values   map[string]string
}

func (s *flakySource) Fetch(ctx context.Context, key string) (string, error) {
	if s.calls.Add(1) <= s.failures {
		return "", parameter.NewTransientError(key, errors.New("InternalServerError"))
	}
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", parameter.NewNotFoundError(key, nil)
}

func lambdaConfig() *config.Config {
	return &config.Config{
		Cache:   config.CacheConfig{MaxSize: 16, ItemTTL: time.Hour},
		Backend: config.BackendConfig{Type: "ssm", Retry: config.RetryConfig{MaxAttempts: 1}},
		AWS:     config.AWSConfig{Region: "us-east-1"},
		Warmup: config.WarmupConfig{
			Parameters:  []string{"/app/key"},
			Timeout:     time.Second,
			Parallelism: 1,
			FailOnError: true,
		},
		Observability: config.ObservabilityConfig{ServiceName: "lambda-test"},
	}
}

func newLazyApp(t *testing.T, source parameter.Backend, builds *atomic.Int64, buildErr error) *lazyApp {
	t.Helper()
	l := &lazyApp{}
	l.build = func(ctx context.Context) (*app.App, error) {
		if builds.Add(1) == 1 && buildErr != nil {
			return nil, buildErr
		}
		return app.New(ctx, lambdaConfig(), app.WithSource(source), app.WithLogger(observability.NewNopLogger()))
	}
	t.Cleanup(func() {
		if l.app != nil {
			_ = l.app.Close(context.Background())
		}
	})
	return l
}

func TestLazyApp_RetriesFailedBuild(t *testing.T) {
	var builds atomic.Int64
	source := &flakySource{values: map[string]string{"/app/key": "secret"}}
	l := newLazyApp(t, source, &builds, errors.New("redis: connection refused"))

	if _, err := l.get(context.Background()); err == nil {
		t.Fatal("Expected the first build error to be returned")
	}

	a, err := l.get(context.Background())
	if err != nil {
		t.Fatalf("Expected the second invocation to rebuild, got %v", err)
	}
	if n := builds.Load(); n != 2 {
		t.Errorf("Expected 2 builds, got %d", n)
	}
	if again, _ := l.get(context.Background()); again != a {
		t.Error("Expected warm invocations to reuse the app")
	}
	if n := builds.Load(); n != 2 {
		t.Errorf("Expected no rebuild once the app exists, got %d builds", n)
	}

	t.Log("✓ A failed cold start is retried on the next invocation")
}

func TestLazyApp_WarmupFailureKeepsApp(t *testing.T) {
	var builds atomic.Int64
	source := &flakySource{failures: 1, values: map[string]string{"/app/key": "secret"}}
	l := newLazyApp(t, source, &builds, nil)

	if _, err := l.get(context.Background()); err == nil {
		t.Fatal("Expected fail_on_error warmup failure to be returned")
	}
	first := l.app
	if first == nil {
		t.Fatal("Expected the built app to be kept after a warmup failure")
	}

	a, err := l.get(context.Background())
	if err != nil {
		t.Fatalf("Expected warmup to be retried and succeed, got %v", err)
	}
	if a != first || builds.Load() != 1 {
		t.Errorf("Expected the same app without a rebuild, got %d builds", builds.Load())
	}

	resp := handle(context.Background(), a.Cache, events.APIGatewayV2HTTPRequest{
		QueryStringParameters: map[string]string{"name": "/app/key"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	if n := source.calls.Load(); n != 2 {
		t.Errorf("Expected the warmed value to be served from cache, got %d backend calls", n)
	}

	t.Log("✓ A failed warmup keeps the app and is retried")
}
