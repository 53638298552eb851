package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func fastConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
}

func tripOpen(cb *CircuitBreaker) {
	for i := 0; i < cb.config.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return errTest })
	}
}

func TestExecute_ClosedPassesThrough(t *testing.T) {
	cb := New(fastConfig())

	calls := 0
	err := cb.Execute(context.Background(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got: %d", calls)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed state, got: %v", cb.State())
	}
}

func TestExecute_OpensAfterFailureThreshold(t *testing.T) {
	cb := New(fastConfig())

	tripOpen(cb)

	if cb.State() != StateOpen {
		t.Errorf("Expected open state, got: %v", cb.State())
	}

	calls := 0
	err := cb.Execute(context.Background(), func() error {
		calls++
		return nil
	})

	if err != ErrOpen {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected fn not to be invoked while open, got %d calls", calls)
	}
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	cb := New(fastConfig())

	_ = cb.Execute(context.Background(), func() error { return errTest })
	_ = cb.Execute(context.Background(), func() error { return errTest })
	_ = cb.Execute(context.Background(), func() error { return nil })
	_ = cb.Execute(context.Background(), func() error { return errTest })
	_ = cb.Execute(context.Background(), func() error { return errTest })

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state after interleaved success, got: %v", cb.State())
	}
}

func TestExecute_HalfOpenAfterTimeout(t *testing.T) {
	cb := New(fastConfig())
	tripOpen(cb)

	time.Sleep(cb.config.Timeout + 5*time.Millisecond)

	calls := 0
	err := cb.Execute(context.Background(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Expected probe to pass through, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 probe call, got: %d", calls)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open state, got: %v", cb.State())
	}
}

func TestExecute_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := New(fastConfig())
	tripOpen(cb)
	time.Sleep(cb.config.Timeout + 5*time.Millisecond)

	for i := 0; i < cb.config.SuccessThreshold; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("Probe %d rejected: %v", i, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state, got: %v", cb.State())
	}
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb := New(fastConfig())
	tripOpen(cb)
	time.Sleep(cb.config.Timeout + 5*time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return errTest })

	if cb.State() != StateOpen {
		t.Errorf("Expected open state after half-open failure, got: %v", cb.State())
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != ErrOpen {
		t.Errorf("Expected ErrOpen immediately after reopening, got: %v", err)
	}
}

func TestAllowRequest_HalfOpenProbeCap(t *testing.T) {
	cfg := fastConfig()
	cfg.SuccessThreshold = 10 // keep the breaker half-open for the whole test
	cb := New(cfg)
	tripOpen(cb)
	time.Sleep(cfg.Timeout + 5*time.Millisecond)

	allowed := 0
	for i := 0; i < cfg.MaxRequestsHalfOpen+3; i++ {
		if cb.allowRequest() {
			allowed++
		}
	}

	if allowed != cfg.MaxRequestsHalfOpen {
		t.Errorf("Expected %d probes allowed, got: %d", cfg.MaxRequestsHalfOpen, allowed)
	}
}

func TestOnStateChange_RecordsTransitions(t *testing.T) {
	cb := New(fastConfig())

	type change struct{ from, to State }
	var changes []change
	cb.OnStateChange(func(from, to State) {
		changes = append(changes, change{from, to})
	})

	tripOpen(cb)
	time.Sleep(cb.config.Timeout + 5*time.Millisecond)
	for i := 0; i < cb.config.SuccessThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return nil })
	}

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d transitions, got: %d", len(want), len(changes))
	}
	for i, w := range want {
		if changes[i] != w {
			t.Errorf("Transition %d: expected %v->%v, got %v->%v", i, w.from, w.to, changes[i].from, changes[i].to)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got: %q", want, got)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.FailureThreshold != 5 {
		t.Errorf("Expected FailureThreshold 5, got: %d", cfg.FailureThreshold)
	}
	if cfg.SuccessThreshold != 2 {
		t.Errorf("Expected SuccessThreshold 2, got: %d", cfg.SuccessThreshold)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Expected Timeout 30s, got: %v", cfg.Timeout)
	}
	if cfg.MaxRequestsHalfOpen != 3 {
		t.Errorf("Expected MaxRequestsHalfOpen 3, got: %d", cfg.MaxRequestsHalfOpen)
	}
}
