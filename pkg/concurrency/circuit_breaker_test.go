package concurrency

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatalf("Breaker opened below threshold: %v", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("Expected open at threshold, got %v", cb.State())
	}
	if !cb.IsOpen() {
		t.Error("IsOpen should report true while open")
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Errorf("Interleaved successes should keep the breaker closed, got %v", cb.State())
	}
	if cb.ConsecutiveFailures() != 2 {
		t.Errorf("Expected streak of 2, got %d", cb.ConsecutiveFailures())
	}
}

func TestBreakerHalfOpenProbing(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("Expected open, got %v", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if cb.IsOpen() {
		t.Fatal("Breaker should start probing after the reset timeout")
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("Expected half-open, got %v", cb.State())
	}

	// A failure while probing reopens immediately.
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("Probe failure should reopen, got %v", cb.State())
	}

	// Enough consecutive probe successes close the circuit.
	time.Sleep(15 * time.Millisecond)
	if cb.IsOpen() {
		t.Fatal("Breaker should probe again")
	}
	for i := 0; i < 5; i++ {
		cb.RecordSuccess()
	}
	if cb.State() != BreakerClosed {
		t.Errorf("Expected closed after probe successes, got %v", cb.State())
	}
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure()
	cb.Reset()
	if cb.State() != BreakerClosed || cb.ConsecutiveFailures() != 0 {
		t.Errorf("Reset should close and clear: state=%v failures=%d",
			cb.State(), cb.ConsecutiveFailures())
	}
}

func TestBreakerStateString(t *testing.T) {
	for state, want := range map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
	} {
		if state.String() != want {
			t.Errorf("Expected %q, got %q", want, state.String())
		}
	}
}
