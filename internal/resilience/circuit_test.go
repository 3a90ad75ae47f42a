package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if !called {
		t.Error("fn was not called in closed state")
	}
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	boom := eris.New("connection refused")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return boom
		})
	}

	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() after %d failures = %v, want open", 3, got)
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("fn should not run when the circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	boom := eris.New("timeout")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return boom
		})
	}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	failures, state := cb.Counters()
	if failures != 0 {
		t.Errorf("consecutive failures after success = %d, want 0", failures)
	}
	if state != CircuitClosed {
		t.Errorf("state = %v, want closed", state)
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
	})

	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("down")
	})
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	now = now.Add(31 * time.Second)
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("State() after reset timeout = %v, want half-open", got)
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
	})

	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("down")
	})
	now = now.Add(2 * time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("probe Execute() error = %v, want nil", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() after successful probe = %v, want closed", got)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
	})

	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("down")
	})
	now = now.Add(2 * time.Second)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("still down")
	})
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("State() after failed probe = %v, want open", got)
	}
}

func TestCircuitBreaker_ExecuteVal(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	got, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) ([]string, error) {
		return []string{"a.xlsx"}, nil
	})
	if err != nil {
		t.Fatalf("ExecuteVal() error = %v, want nil", err)
	}
	if len(got) != 1 || got[0] != "a.xlsx" {
		t.Errorf("ExecuteVal() = %v, want [a.xlsx]", got)
	}

	_, _ = ExecuteVal(context.Background(), cb, func(ctx context.Context) ([]string, error) {
		return nil, eris.New("down")
	})
	_, err = ExecuteVal(context.Background(), cb, func(ctx context.Context) ([]string, error) {
		t.Error("fn should not run when the circuit is open")
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("ExecuteVal() error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("down")
	})
	cb.Reset()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}
