package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_PassesThroughSuccess(t *testing.T) {
	cb := NewCircuitBreaker()

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("Execute() result = %v, want ok", result)
	}

	m := cb.Metrics()
	if m.TotalRequests != 1 || m.TotalSuccesses != 1 || m.TotalFailures != 0 {
		t.Errorf("metrics = %+v, want 1 request / 1 success / 0 failures", m)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
	})

	boom := errors.New("backend down")
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("failure %d: error = %v, want %v", i+1, err, boom)
		}
	}

	// The circuit is now open: the function must not run at all.
	called := false
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("function was called while the circuit was open")
	}
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		MaxFailures:          1,
		Timeout:              20 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, errors.New("backend down")
	})
	if err == nil {
		t.Fatal("expected failure to trip the circuit")
	}
	if _, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(50 * time.Millisecond)

	// Half-open now: a success closes the circuit again.
	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute() after timeout error = %v", err)
	}
	if result != "ok" {
		t.Errorf("Execute() result = %v, want ok", result)
	}
}

func TestCircuitBreaker_RespectsCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (interface{}, error) {
		t.Error("function was called with a cancelled context")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
