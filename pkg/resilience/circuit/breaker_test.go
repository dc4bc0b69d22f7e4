package circuit

import (
	"testing"
	"time"

	"optichat/pkg/config"
	"optichat/pkg/resilience/retry"
)

// fakeClock provides controllable time for breaker tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, recovery time.Duration) (*breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := newWithClock(config.CircuitConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
		Name:             "test-target",
	}, clock.Now)
	return b, clock
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	if b.GetState() != Closed {
		t.Errorf("Expected CLOSED initial state, got %s", b.GetState())
	}
	if b.IsOpen() {
		t.Error("Expected IsOpen false for new breaker")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure(retry.KindNetwork)
	b.RecordFailure(retry.KindNetwork)
	if b.IsOpen() {
		t.Error("Expected closed below threshold")
	}

	b.RecordFailure(retry.KindNetwork)
	if !b.IsOpen() {
		t.Error("Expected open at threshold")
	}
	if b.GetState() != Open {
		t.Errorf("Expected OPEN state, got %s", b.GetState())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure(retry.KindTimeout)
	b.RecordFailure(retry.KindTimeout)
	b.RecordSuccess()
	b.RecordFailure(retry.KindTimeout)
	b.RecordFailure(retry.KindTimeout)

	// Interleaved success reset the count, so 2+2 failures never hit 3.
	if b.IsOpen() {
		t.Error("Expected closed: success must reset the failure count")
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	b.RecordFailure(retry.KindAPIError)
	b.RecordFailure(retry.KindAPIError)
	if !b.IsOpen() {
		t.Fatal("Expected open after threshold failures")
	}

	clock.Advance(59 * time.Second)
	if !b.IsOpen() {
		t.Error("Expected still open before recovery timeout")
	}

	clock.Advance(2 * time.Second)
	if b.IsOpen() {
		t.Error("Expected half-open (IsOpen false) after recovery timeout")
	}
	if b.GetState() != HalfOpen {
		t.Errorf("Expected HALF_OPEN state, got %s", b.GetState())
	}
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure(retry.KindUnknown)
	clock.Advance(2 * time.Minute)
	if b.IsOpen() {
		t.Fatal("Expected half-open after cooldown")
	}

	b.RecordSuccess()
	if b.GetState() != Closed {
		t.Errorf("Expected CLOSED after half-open success, got %s", b.GetState())
	}
	if b.IsOpen() {
		t.Error("Expected IsOpen false after recovery")
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure(retry.KindUnknown)
	clock.Advance(2 * time.Minute)
	if b.IsOpen() {
		t.Fatal("Expected half-open after cooldown")
	}

	b.RecordFailure(retry.KindUnknown)
	if b.GetState() != Open {
		t.Errorf("Expected OPEN after half-open failure, got %s", b.GetState())
	}
	if !b.IsOpen() {
		t.Error("Expected IsOpen true immediately after half-open failure")
	}
}

func TestBreakerResetIdempotent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	b.RecordFailure(retry.KindNetwork)
	if !b.IsOpen() {
		t.Fatal("Expected open")
	}

	b.Reset()
	b.Reset()

	if b.GetState() != Closed {
		t.Errorf("Expected CLOSED after double reset, got %s", b.GetState())
	}
	stats := b.Stats()
	if stats.FailureCount != 0 {
		t.Errorf("Expected zero failures after reset, got %d", stats.FailureCount)
	}
	if stats.LastFailure != nil {
		t.Error("Expected last failure cleared after reset")
	}
}

func TestBreakerStatsSnapshot(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure(retry.KindRateLimit)
	stats := b.Stats()

	if stats.Name != "test-target" {
		t.Errorf("Expected target name in stats, got %q", stats.Name)
	}
	if stats.State != "CLOSED" {
		t.Errorf("Expected CLOSED in stats, got %s", stats.State)
	}
	if stats.FailureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.FailureCount)
	}
	if stats.LastKind != "rate_limit" {
		t.Errorf("Expected rate_limit last kind, got %s", stats.LastKind)
	}
	if stats.LastFailure == nil {
		t.Error("Expected last failure timestamp")
	}
}
