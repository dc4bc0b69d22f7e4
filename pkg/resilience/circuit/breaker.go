// Package circuit provides per-target circuit breakers that gate agent
// invocations against repeatedly-failing targets.
package circuit

import (
	"sync"
	"time"

	"optichat/pkg/config"
	"optichat/pkg/logx"
	"optichat/pkg/resilience/retry"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states for managing target failure patterns.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Testing if target recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is the capability contract for circuit breaker implementations.
// The fallback handler depends on this interface, never on the concrete type.
type Breaker interface {
	// IsOpen reports whether requests should be rejected. When the recovery
	// timeout has elapsed on an open breaker, it transitions to half-open and
	// returns false, allowing exactly one trial invocation path.
	IsOpen() bool

	// RecordSuccess resets the failure count and closes a half-open breaker.
	RecordSuccess()

	// RecordFailure counts a failure of the given kind, opening the breaker
	// at the failure threshold or immediately from half-open.
	RecordFailure(kind retry.FailureKind)

	// GetState returns the current breaker state.
	GetState() State

	// Reset manually returns the breaker to closed with zero failures.
	Reset()

	// Stats returns a snapshot of the breaker's counters.
	Stats() Stats
}

// Stats is a point-in-time snapshot of a breaker's state for health surfaces.
type Stats struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	FailureCount int        `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastKind     string     `json:"last_failure_kind,omitempty"`
}

// breaker implements Breaker with mutex-guarded state management.
type breaker struct {
	config          config.CircuitConfig
	logger          *logx.Logger
	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	lastKind        retry.FailureKind
	now             func() time.Time // Injectable clock for tests
}

// New creates a circuit breaker for the named target.
func New(cfg config.CircuitConfig) Breaker {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg config.CircuitConfig, now func() time.Time) *breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = config.DefaultCircuitConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = config.DefaultCircuitConfig.RecoveryTimeout
	}
	return &breaker{
		config: cfg,
		logger: logx.NewLogger("circuit:" + cfg.Name),
		state:  Closed,
		now:    now,
	}
}

// IsOpen reports whether requests should be rejected.
func (b *breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return false
	}

	// Recovery timeout elapsed: move to half-open and allow one trial.
	if b.now().Sub(b.lastFailureTime) >= b.config.RecoveryTimeout {
		b.state = HalfOpen
		b.logger.Info("Circuit half-open after %v cooldown, allowing trial call", b.config.RecoveryTimeout)
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == HalfOpen {
		b.state = Closed
		b.logger.Info("Circuit closed after successful trial call")
	}
}

// RecordFailure counts a failure and transitions state as needed.
func (b *breaker) RecordFailure(kind retry.FailureKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()
	b.lastKind = kind

	switch b.state {
	case Closed:
		if b.failureCount >= b.config.FailureThreshold {
			b.state = Open
			b.logger.Warn("Circuit OPENED after %d failures (threshold %d, last kind %s)",
				b.failureCount, b.config.FailureThreshold, kind.String())
		}
	case HalfOpen:
		// Any failure in half-open immediately reopens the circuit.
		b.state = Open
		b.logger.Warn("Circuit reopened from HALF_OPEN (kind %s)", kind.String())
	}
}

// GetState returns the current breaker state.
func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually returns the breaker to closed with zero failures.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

// Stats returns a snapshot of the breaker's counters.
func (b *breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Name:         b.config.Name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		stats.LastFailure = &t
		stats.LastKind = b.lastKind.String()
	}
	return stats
}
