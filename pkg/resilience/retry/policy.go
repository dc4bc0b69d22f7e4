package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Error is a classified operation failure carrying its kind.
type Error struct {
	Err     error       // Wrapped underlying error
	Message string      // Human-readable error message
	Kind    FailureKind // Classified failure kind
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agent error (%s): %s", e.Kind.String(), e.Message)
	}
	return fmt.Sprintf("agent error (%s): %v", e.Kind.String(), e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error wrapping a cause.
func NewError(kind FailureKind, cause error, message string) *Error {
	return &Error{Kind: kind, Err: cause, Message: message}
}

// Is checks if an error carries a specific failure kind.
func Is(err error, kind FailureKind) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind == kind
	}
	return false
}

// Classify maps an error to a failure kind. Explicitly classified errors win;
// otherwise classification is case-insensitive substring matching against the
// error text, in priority order: timeout, rate limit, auth, network,
// validation, api.
func Classify(err error) FailureKind {
	if err == nil {
		return KindUnknown
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "auth") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return KindAuthentication
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return KindNetwork
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return KindValidation
	case strings.Contains(msg, "api") || strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return KindAPIError
	default:
		return KindUnknown
	}
}

// Config defines configuration for backoff delay calculation.
type Config struct {
	BaseDelay       time.Duration // Initial delay before first retry
	MaxDelay        time.Duration // Maximum delay between retries
	ExponentialBase float64       // Multiplier for exponential backoff
}

// DefaultConfig provides reasonable defaults for backoff behavior.
var DefaultConfig = Config{ //nolint:gochecknoglobals
	BaseDelay:       1 * time.Second,
	MaxDelay:        30 * time.Second,
	ExponentialBase: 2.0,
}

// JitterSource produces the jitter fraction added to a computed delay.
// Injectable so retry-timing tests are deterministic.
type JitterSource func() float64

// defaultJitter returns a uniform fraction in [0.1, 0.3): 10-30% positive
// jitter, never negative, to avoid thundering herd.
func defaultJitter() float64 {
	return 0.1 + rand.Float64()*0.2 //nolint:gosec // Jitter does not need crypto randomness
}

// Policy computes kind-adjusted exponential backoff delays.
type Policy struct {
	config Config
	jitter JitterSource
	mu     sync.Mutex
}

// NewPolicy creates a backoff policy with the given configuration.
func NewPolicy(config Config) *Policy {
	return NewPolicyWithJitter(config, defaultJitter)
}

// NewPolicyWithJitter creates a backoff policy with an injected jitter source.
func NewPolicyWithJitter(config Config, jitter JitterSource) *Policy {
	if config.ExponentialBase < 1.0 {
		config.ExponentialBase = DefaultConfig.ExponentialBase
	}
	if jitter == nil {
		jitter = defaultJitter
	}
	return &Policy{config: config, jitter: jitter}
}

// Delay computes the backoff delay for the given 1-indexed attempt number.
// Rate-limit failures wait at least 5s, timeouts at least 2s; the exponential
// term is capped at MaxDelay before jitter is added.
func (p *Policy) Delay(attempt int, kind FailureKind) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.config.BaseDelay
	switch kind {
	case KindRateLimit:
		base = maxDuration(2*base, 5*time.Second)
	case KindTimeout:
		base = maxDuration(base+base/2, 2*time.Second)
	}

	delay := time.Duration(float64(base) * math.Pow(p.config.ExponentialBase, float64(attempt-1)))
	if delay > p.config.MaxDelay || delay < 0 {
		delay = p.config.MaxDelay
	}

	p.mu.Lock()
	fraction := p.jitter()
	p.mu.Unlock()

	return delay + time.Duration(float64(delay)*fraction)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
