package fallback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"optichat/pkg/config"
	"optichat/pkg/logx"
	"optichat/pkg/metrics"
	"optichat/pkg/resilience/circuit"
	"optichat/pkg/resilience/retry"
)

// Retry history bounds: the log is capped at historyCap entries and trimmed
// to the most recent historyKeep on overflow. Diagnostics only, never
// control flow.
const (
	historyCap  = 100
	historyKeep = 50
)

// Operation is an arbitrary agent invocation wrapped by the handler.
type Operation func(ctx context.Context) (any, error)

// RetryAttempt is one entry in the bounded retry-history log.
type RetryAttempt struct {
	AttemptNumber int               `json:"attempt_number"`
	Operation     string            `json:"operation"`
	Kind          retry.FailureKind `json:"failure_kind"`
	ErrorMessage  string            `json:"error_message"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Handler wraps operations with circuit-breaker gating, bounded retry with
// backoff, and terminal fallback synthesis.
//
// Breakers are keyed by target id (agent name), not by user or request:
// failure domains are per-agent-type, so one user's provider outage opens the
// breaker for everyone. This shared failure domain is intentional.
type Handler struct {
	cfg        config.FallbackConfig
	circuitCfg config.CircuitConfig
	policy     *retry.Policy
	catalog    *Catalog
	agentTypes map[string]string
	recorder   *metrics.Recorder
	logger     *logx.Logger

	mu       sync.Mutex
	breakers map[string]circuit.Breaker
	history  []RetryAttempt

	sleep func(ctx context.Context, d time.Duration) error // Injectable for tests
}

// HandlerOptions customizes handler construction.
type HandlerOptions struct {
	Recorder   *metrics.Recorder // Optional metrics recorder
	AgentTypes map[string]string // Extra agent-name -> fallback-type entries
	Jitter     retry.JitterSource
}

// NewHandler creates a fallback handler with the given configs.
func NewHandler(cfg config.FallbackConfig, circuitCfg config.CircuitConfig) *Handler {
	return NewHandlerWithOptions(cfg, circuitCfg, HandlerOptions{})
}

// NewHandlerWithOptions creates a fallback handler with custom options.
func NewHandlerWithOptions(cfg config.FallbackConfig, circuitCfg config.CircuitConfig, opts HandlerOptions) *Handler {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = config.DefaultFallbackConfig.MaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultFallbackConfig.Timeout
	}

	retryCfg := retry.Config{
		BaseDelay:       cfg.BaseDelay,
		MaxDelay:        cfg.MaxDelay,
		ExponentialBase: cfg.ExponentialBase,
	}
	if retryCfg.BaseDelay <= 0 {
		retryCfg.BaseDelay = config.DefaultFallbackConfig.BaseDelay
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = config.DefaultFallbackConfig.MaxDelay
	}

	agentTypes := make(map[string]string, len(defaultAgentTypes)+len(opts.AgentTypes))
	for k, v := range defaultAgentTypes {
		agentTypes[k] = v
	}
	for k, v := range opts.AgentTypes {
		agentTypes[k] = v
	}

	return &Handler{
		cfg:        cfg,
		circuitCfg: circuitCfg,
		policy:     retry.NewPolicyWithJitter(retryCfg, opts.Jitter),
		catalog:    NewCatalog(),
		agentTypes: agentTypes,
		recorder:   opts.Recorder,
		logger:     logx.NewLogger("fallback"),
		breakers:   make(map[string]circuit.Breaker),
		sleep:      sleepCtx,
	}
}

// TypeFor resolves the fallback category for an agent name using the
// handler's (possibly extended) mapping.
func (h *Handler) TypeFor(agentName string) string {
	if t, ok := h.agentTypes[agentName]; ok {
		return t
	}
	return TypeGeneral
}

// Catalog exposes the handler's response catalog.
func (h *Handler) Catalog() *Catalog {
	return h.catalog
}

// errCircuitOpen signals that the breaker rejected the invocation before any
// attempt was made.
var errCircuitOpen = errors.New("circuit open")

// exhaustedError marks a terminal failure after the full retry budget.
type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.attempts, e.last)
}

func (e *exhaustedError) Unwrap() error {
	return e.last
}

// ExecuteWithFallback runs the operation with circuit gating and bounded
// retry. On success the operation's result is returned. When the circuit is
// open or retries are exhausted, a degraded catalog payload is returned
// instead (never an error). The only error returns are caller-context
// cancellation, which is not a degradation the catalog can paper over.
func (h *Handler) ExecuteWithFallback(ctx context.Context, op Operation, opName, targetID, fallbackType string) (any, error) {
	result, err := h.run(ctx, op, opName, targetID)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errCircuitOpen):
		h.logger.Warn("Circuit open for %s, serving %s fallback without attempting %s",
			targetID, fallbackType, opName)
		h.recorder.IncFallback(targetID, "circuit_open")
		return h.catalog.Get(fallbackType, nil), nil
	default:
		var exhausted *exhaustedError
		if errors.As(err, &exhausted) {
			h.logger.Warn("Retries exhausted for %s after %d attempts, serving %s fallback: %v",
				opName, exhausted.attempts, fallbackType, exhausted.last)
			h.recorder.IncFallback(targetID, "retry_exhausted")
			return h.catalog.Get(fallbackType, exhausted.last), nil
		}
		// Caller-context cancellation.
		return nil, err
	}
}

// run drives the circuit gate and retry loop shared by the plain and
// structured entry points. It returns errCircuitOpen when gated, an
// *exhaustedError after the retry budget, or the context error on
// cancellation.
func (h *Handler) run(ctx context.Context, op Operation, opName, targetID string) (any, error) {
	breaker := h.breakerFor(targetID)

	if breaker != nil && breaker.IsOpen() {
		h.observeCircuit(targetID, breaker)
		return nil, errCircuitOpen
	}

	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxRetries; attempt++ {
		result, err := h.attempt(ctx, op)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
				h.observeCircuit(targetID, breaker)
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation %s cancelled: %w", opName, ctx.Err())
		}

		lastErr = err
		kind := retry.Classify(err)
		h.recordAttempt(RetryAttempt{
			AttemptNumber: attempt,
			Operation:     opName,
			Kind:          kind,
			ErrorMessage:  err.Error(),
			Timestamp:     time.Now().UTC(),
		})
		h.recorder.IncRetry(targetID, kind.String())
		if breaker != nil {
			breaker.RecordFailure(kind)
			h.observeCircuit(targetID, breaker)
		}

		if attempt < h.cfg.MaxRetries {
			delay := h.policy.Delay(attempt, kind)
			h.logger.Info("Attempt %d/%d of %s failed (%s), retrying in %v: %v",
				attempt, h.cfg.MaxRetries, opName, kind.String(), delay, err)
			if sleepErr := h.sleep(ctx, delay); sleepErr != nil {
				return nil, fmt.Errorf("operation %s cancelled during backoff: %w", opName, sleepErr)
			}
		}
	}

	return nil, &exhaustedError{attempts: h.cfg.MaxRetries, last: lastErr}
}

// attempt runs the operation under the per-attempt timeout. A timed-out
// operation is abandoned; its goroutine drains into a buffered channel.
func (h *Handler) attempt(ctx context.Context, op Operation) (result any, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		res, opErr := op(attemptCtx)
		done <- outcome{result: res, err: opErr}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.NewError(retry.KindTimeout, attemptCtx.Err(),
			fmt.Sprintf("operation timed out after %v", h.cfg.Timeout))
	}
}

// breakerFor returns the lazily-created breaker for a target, or nil when
// circuit breaking is disabled.
func (h *Handler) breakerFor(targetID string) circuit.Breaker {
	if !h.cfg.UseCircuitBreaker {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[targetID]
	if !ok {
		cfg := h.circuitCfg
		cfg.Name = targetID
		b = circuit.New(cfg)
		h.breakers[targetID] = b
	}
	return b
}

// CircuitOpen reports whether the target's breaker currently rejects
// invocations. As with Breaker.IsOpen, an elapsed recovery timeout moves the
// breaker to half-open and reports false.
func (h *Handler) CircuitOpen(targetID string) bool {
	b := h.breakerFor(targetID)
	return b != nil && b.IsOpen()
}

func (h *Handler) observeCircuit(targetID string, b circuit.Breaker) {
	h.recorder.SetCircuitState(targetID, int(b.GetState()))
}

// recordAttempt appends to the bounded retry-history log.
func (h *Handler) recordAttempt(attempt RetryAttempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, attempt)
	if len(h.history) > historyCap {
		h.history = append(h.history[:0:0], h.history[len(h.history)-historyKeep:]...)
	}
}

// RetryHistory returns a copy of the bounded retry-history log.
func (h *Handler) RetryHistory() []RetryAttempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RetryAttempt(nil), h.history...)
}

// BreakerStats returns a stable-ordered snapshot of every breaker's state.
func (h *Handler) BreakerStats() []circuit.Stats {
	h.mu.Lock()
	names := make([]string, 0, len(h.breakers))
	for name := range h.breakers {
		names = append(names, name)
	}
	breakers := make([]circuit.Breaker, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		breakers = append(breakers, h.breakers[name])
	}
	h.mu.Unlock()

	stats := make([]circuit.Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}

// ResetFallbackMechanisms returns every breaker to closed/zero-failure and
// clears the retry history. Safe to call repeatedly.
func (h *Handler) ResetFallbackMechanisms() {
	h.mu.Lock()
	breakers := make([]circuit.Breaker, 0, len(h.breakers))
	names := make([]string, 0, len(h.breakers))
	for name, b := range h.breakers {
		breakers = append(breakers, b)
		names = append(names, name)
	}
	h.history = nil
	h.mu.Unlock()

	for i, b := range breakers {
		b.Reset()
		h.recorder.SetCircuitState(names[i], int(circuit.Closed))
	}
	h.logger.Info("Fallback mechanisms reset: %d breakers closed, retry history cleared", len(breakers))
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
