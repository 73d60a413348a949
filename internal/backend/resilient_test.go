package backend

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestResilientBackend_RetriesTransient(t *testing.T) {
	next := &scriptedBackend{name: "ssm", results: []result{transient("k"), transient("k"), ok("v")}}
	r := NewResilientBackend(next, ResilientConfig{Retry: fastRetry()})

	value, err := r.Fetch(context.Background(), "k")
	if err != nil || value != "v" {
		t.Fatalf("Expected %q after retries, got %q (%v)", "v", value, err)
	}
	if next.callCount() != 3 {
		t.Errorf("Expected 3 attempts, got %d", next.callCount())
	}
	if r.Name() != "ssm" {
		t.Errorf("Expected wrapped name, got %q", r.Name())
	}

	t.Log("✓ Transient failures are retried")
}

func TestResilientBackend_DoesNotRetryNotFoundOrOther(t *testing.T) {
	for _, res := range []result{notFound("k"), other("k")} {
		next := &scriptedBackend{results: []result{res, ok("v")}}
		r := NewResilientBackend(next, ResilientConfig{Retry: fastRetry()})

		_, err := r.Fetch(context.Background(), "k")
		if parameter.KindOf(err) != parameter.KindOf(res.err) {
			t.Errorf("Expected kind %v to be preserved, got %v", parameter.KindOf(res.err), err)
		}
		if next.callCount() != 1 {
			t.Errorf("Expected a single attempt for %v, got %d", res.err, next.callCount())
		}
	}
}

func TestResilientBackend_BreakerIgnoresNotFound(t *testing.T) {
	next := &scriptedBackend{results: []result{notFound("k")}}
	r := NewResilientBackend(next, ResilientConfig{
		Retry:          fastRetry(),
		CircuitBreaker: &resilience.CircuitBreakerConfig{FailureThreshold: 2},
	})

	for i := 0; i < 5; i++ {
		_, _ = r.Fetch(context.Background(), "k")
	}
	if r.BreakerState() != resilience.StateClosed || !r.Ready() {
		t.Errorf("Expected breaker closed after NotFound answers, got %s", r.BreakerState())
	}
}

func TestResilientBackend_BreakerOpensOnOutage(t *testing.T) {
	next := &scriptedBackend{results: []result{other("k")}}
	var transitions []resilience.State
	r := NewResilientBackend(next, ResilientConfig{
		Retry: fastRetry(),
		CircuitBreaker: &resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			Timeout:          time.Hour,
			OnStateChange: func(from, to resilience.State) {
				transitions = append(transitions, to)
			},
		},
	})

	_, _ = r.Fetch(context.Background(), "k")
	_, _ = r.Fetch(context.Background(), "k")
	if r.Ready() {
		t.Fatal("Expected breaker to open after 2 failures")
	}

	_, err := r.Fetch(context.Background(), "k")
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, parameter.ErrTransient) {
		t.Errorf("Expected transient circuit-open error, got %v", err)
	}
	if next.callCount() != 2 {
		t.Errorf("Expected open breaker to skip the backend, got %d calls", next.callCount())
	}
	if len(transitions) != 1 || transitions[0] != resilience.StateOpen {
		t.Errorf("Expected caller's OnStateChange to see the open transition, got %v", transitions)
	}

	t.Log("✓ Circuit breaker short-circuits a failing backend")
}

func awsResponseError(status int, code string) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      &smithy.GenericAPIError{Code: code},
		},
	}
}

func TestResilientBackend_BreakerIgnoresClientErrors(t *testing.T) {
	clientErrors := map[string]error{
		"access denied": awsResponseError(http.StatusForbidden, "AccessDeniedException"),
		"validation":    &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient},
		"redis reply":   replyError("WRONGTYPE Operation against a key holding the wrong kind of value"),
	}

	for name, cause := range clientErrors {
		next := &scriptedBackend{results: []result{{err: parameter.NewBackendError("k", cause)}}}
		r := NewResilientBackend(next, ResilientConfig{
			Retry:          fastRetry(),
			CircuitBreaker: &resilience.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour},
		})

		for i := 0; i < 5; i++ {
			if _, err := r.Fetch(context.Background(), "k"); !errors.Is(err, parameter.ErrBackend) {
				t.Fatalf("%s: expected ErrBackend, got %v", name, err)
			}
		}
		if !r.Ready() || next.callCount() != 5 {
			t.Errorf("%s: expected breaker to stay closed, state=%s calls=%d", name, r.BreakerState(), next.callCount())
		}
	}

	t.Log("✓ Per-parameter client errors do not open the breaker")
}

func TestCountsAsOutage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found", parameter.NewNotFoundError("k", nil), false},
		{"cancelled", parameter.NewTransientError("k", context.Canceled), false},
		{"transient", parameter.NewTransientError("k", nil), true},
		{"throttled", parameter.NewThrottledError("k", nil), true},
		{"forbidden", parameter.NewBackendError("k", awsResponseError(http.StatusForbidden, "AccessDeniedException")), false},
		{"server fault", parameter.NewBackendError("k", awsResponseError(http.StatusNotImplemented, "NotImplemented")), true},
		{"unclassified", parameter.NewBackendError("k", errors.New("boom")), true},
	}

	for _, tt := range tests {
		if got := countsAsOutage(tt.err); got != tt.want {
			t.Errorf("%s: countsAsOutage = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResilientBackend_ThrottleSlowsLimiter(t *testing.T) {
	next := &scriptedBackend{results: []result{throttled("k"), ok("v")}}
	var rates []float64
	r := NewResilientBackend(next, ResilientConfig{
		Retry: fastRetry(),
		RateLimit: &resilience.AdaptiveLimiterConfig{
			BaseRate:     1000,
			OnRateChange: func(rate float64) { rates = append(rates, rate) },
		},
	})

	value, err := r.Fetch(context.Background(), "k")
	if err != nil || value != "v" {
		t.Fatalf("Expected retry past throttling, got %q (%v)", value, err)
	}
	if len(rates) != 1 || rates[0] != 500 {
		t.Errorf("Expected rate halved to 500, got %v", rates)
	}
}

func TestResilientBackend_ConcurrencyCap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	next := parameter.BackendFunc(func(ctx context.Context, key string) (string, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "v", nil
	})
	r := NewResilientBackend(next, ResilientConfig{Retry: fastRetry(), MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Fetch(context.Background(), "k")
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got > 2 {
		t.Errorf("Expected at most 2 concurrent calls, saw %d", got)
	}
}

func TestResilientBackend_ConcurrencyCapHonoursContext(t *testing.T) {
	block := make(chan struct{})
	next := parameter.BackendFunc(func(ctx context.Context, key string) (string, error) {
		<-block
		return "v", nil
	})
	r := NewResilientBackend(next, ResilientConfig{Retry: fastRetry(), MaxConcurrent: 1})

	go func() { _, _ = r.Fetch(context.Background(), "first") }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Fetch(ctx, "second")
	close(block)

	if !errors.Is(err, parameter.ErrTransient) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected transient deadline error, got %v", err)
	}
}
