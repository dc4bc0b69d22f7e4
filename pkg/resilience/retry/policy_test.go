package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// =============================================================================
// Classify tests
// =============================================================================

func TestClassify_NilError(t *testing.T) {
	if kind := Classify(nil); kind != KindUnknown {
		t.Errorf("Expected unknown for nil error, got %s", kind)
	}
}

func TestClassify_StringPatterns(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"timeout", errors.New("request timeout after 30s"), KindTimeout},
		{"timed out", errors.New("operation timed out"), KindTimeout},
		{"rate limit", errors.New("Rate limit exceeded"), KindRateLimit},
		{"429", errors.New("HTTP 429 Too Many Requests"), KindRateLimit},
		{"auth", errors.New("authentication failed"), KindAuthentication},
		{"401", errors.New("HTTP 401 Unauthorized"), KindAuthentication},
		{"403", errors.New("HTTP 403 Forbidden"), KindAuthentication},
		{"network", errors.New("network unreachable"), KindNetwork},
		{"connection", errors.New("connection refused"), KindNetwork},
		{"validation", errors.New("validation error: missing field"), KindValidation},
		{"invalid", errors.New("invalid payload shape"), KindValidation},
		{"api", errors.New("API returned unexpected body"), KindAPIError},
		{"500", errors.New("HTTP 500 Internal Server Error"), KindAPIError},
		{"unknown", errors.New("something odd happened"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	// "connection timeout" matches both timeout and network; timeout wins.
	if got := Classify(errors.New("connection timeout")); got != KindTimeout {
		t.Errorf("Expected timeout to take priority over network, got %s", got)
	}
	// "rate limit on api" matches both rate limit and api; rate limit wins.
	if got := Classify(errors.New("rate limit on api")); got != KindRateLimit {
		t.Errorf("Expected rate limit to take priority over api, got %s", got)
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("agent call failed: %w", context.DeadlineExceeded)
	if got := Classify(err); got != KindTimeout {
		t.Errorf("Expected timeout for wrapped DeadlineExceeded, got %s", got)
	}
}

func TestClassify_TypedErrorWins(t *testing.T) {
	// An explicitly classified error beats string matching.
	err := NewError(KindRateLimit, errors.New("connection reset"), "throttled upstream")
	if got := Classify(fmt.Errorf("wrapped: %w", err)); got != KindRateLimit {
		t.Errorf("Expected typed classification to win, got %s", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(KindNetwork, cause, "fan-out failed")
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the wrapped cause")
	}
	if !Is(err, KindNetwork) {
		t.Error("Expected Is to match the failure kind")
	}
	if Is(err, KindTimeout) {
		t.Error("Expected Is to reject a different kind")
	}
}

// =============================================================================
// Delay tests
// =============================================================================

// fixedJitter returns a constant jitter fraction for deterministic tests.
func fixedJitter(f float64) JitterSource {
	return func() float64 { return f }
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	policy := NewPolicyWithJitter(Config{
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}, fixedJitter(0))

	if got := policy.Delay(1, KindUnknown); got != 1*time.Second {
		t.Errorf("attempt 1: expected 1s, got %v", got)
	}
	if got := policy.Delay(2, KindUnknown); got != 2*time.Second {
		t.Errorf("attempt 2: expected 2s, got %v", got)
	}
	if got := policy.Delay(3, KindUnknown); got != 4*time.Second {
		t.Errorf("attempt 3: expected 4s, got %v", got)
	}
}

func TestDelay_Monotonic(t *testing.T) {
	policy := NewPolicyWithJitter(Config{
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}, fixedJitter(0))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		d := policy.Delay(attempt, KindUnknown)
		if d < prev {
			t.Errorf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestDelay_CappedAtMaxDelay(t *testing.T) {
	policy := NewPolicyWithJitter(Config{
		BaseDelay:       1 * time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
	}, fixedJitter(0))

	if got := policy.Delay(10, KindUnknown); got != 5*time.Second {
		t.Errorf("Expected delay capped at 5s, got %v", got)
	}
	// Large attempt numbers must not overflow past the cap.
	if got := policy.Delay(200, KindUnknown); got != 5*time.Second {
		t.Errorf("Expected overflow-safe cap at 5s, got %v", got)
	}
}

func TestDelay_RateLimitFloor(t *testing.T) {
	policy := NewPolicyWithJitter(Config{
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
	}, fixedJitter(0))

	// Base 0.5s doubled is 1s, below the 5s floor.
	if got := policy.Delay(1, KindRateLimit); got != 5*time.Second {
		t.Errorf("Expected 5s rate-limit floor, got %v", got)
	}
}

func TestDelay_TimeoutFloor(t *testing.T) {
	policy := NewPolicyWithJitter(Config{
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
	}, fixedJitter(0))

	// Base 0.5s * 1.5 is 0.75s, below the 2s floor.
	if got := policy.Delay(1, KindTimeout); got != 2*time.Second {
		t.Errorf("Expected 2s timeout floor, got %v", got)
	}
}

func TestDelay_JitterRange(t *testing.T) {
	base := 1 * time.Second

	low := NewPolicyWithJitter(Config{
		BaseDelay: base, MaxDelay: 30 * time.Second, ExponentialBase: 2.0,
	}, fixedJitter(0.1))
	high := NewPolicyWithJitter(Config{
		BaseDelay: base, MaxDelay: 30 * time.Second, ExponentialBase: 2.0,
	}, fixedJitter(0.3))

	if got := low.Delay(1, KindUnknown); got != 1100*time.Millisecond {
		t.Errorf("Expected 1.1s with 10%% jitter, got %v", got)
	}
	if got := high.Delay(1, KindUnknown); got != 1300*time.Millisecond {
		t.Errorf("Expected 1.3s with 30%% jitter, got %v", got)
	}
}

func TestDelay_DefaultJitterNeverNegative(t *testing.T) {
	policy := NewPolicy(Config{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
	})

	for i := 0; i < 100; i++ {
		d := policy.Delay(1, KindUnknown)
		if d < 100*time.Millisecond {
			t.Fatalf("Jitter produced delay below base: %v", d)
		}
		if d > 130*time.Millisecond {
			t.Fatalf("Jitter exceeded 30%% bound: %v", d)
		}
	}
}
