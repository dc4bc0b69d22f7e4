package engine

import (
	"context"
	"fmt"
	"time"

	"optichat/pkg/config"
	"optichat/pkg/fallback"
	"optichat/pkg/logx"
	"optichat/pkg/metrics"
	"optichat/pkg/notify"
)

// runHistoryCap bounds the observability ring of completed results.
const runHistoryCap = 100

// circuitFallbackDuration is the fixed nominal duration reported by
// circuit-open fallback results: nothing was attempted, but callers expect a
// non-zero timing.
const circuitFallbackDuration = 50 * time.Millisecond

// Engine executes agents and pipelines with fallback wrapping and run
// history. One engine instance may serve many concurrent requests; the only
// state shared across them is the breaker map (keyed by agent name, an
// intentional shared failure domain) and the history ring.
type Engine struct {
	cfg      config.EngineConfig
	registry Registry
	notifier notify.Notifier
	fallback *fallback.Handler
	recorder *metrics.Recorder
	logger   *logx.Logger
	history  *resultRing

	sleep func(ctx context.Context, d time.Duration) error // Injectable for tests
}

// Options customizes engine construction.
type Options struct {
	Notifier notify.Notifier
	Recorder *metrics.Recorder
}

// New creates an execution engine.
func New(cfg config.EngineConfig, registry Registry, handler *fallback.Handler, opts Options) *Engine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = config.DefaultEngineConfig.MaxRetries
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		notifier: notifier,
		fallback: handler,
		recorder: opts.Recorder,
		logger:   logx.NewLogger("engine"),
		history:  newResultRing(runHistoryCap),
		sleep:    sleepCtx,
	}
}

// Fallback exposes the engine's fallback handler for health surfaces.
func (e *Engine) Fallback() *fallback.Handler {
	return e.fallback
}

// RunHistory returns the bounded history of completed results, oldest first.
func (e *Engine) RunHistory() []*ExecutionResult {
	return e.history.Snapshot()
}

// ExecuteAgent runs a single agent with engine-level immediate retries. A
// registry miss returns an error result without retry or fallback — there is
// no operation to retry. After the retry budget is spent, the fallback layer
// produces a graceful-degradation result.
func (e *Engine) ExecuteAgent(ctx context.Context, ec *ExecutionContext, state State) *ExecutionResult {
	agent, ok := e.registry.Get(ec.AgentName)
	if !ok {
		result := &ExecutionResult{
			Success:  false,
			Error:    fmt.Sprintf("agent %s not found in registry", ec.AgentName),
			Metadata: map[string]any{},
		}
		e.record(ec, result)
		return result
	}

	e.notify(ec, func() error {
		return e.notifier.SendAgentStarted(ctx, ec.NotifyMeta())
	})

	// Explicit bounded loop, not recursion: the retry bound stays visible.
	for {
		start := time.Now()
		out, err := agent.Execute(ctx, state, ec.RunID, true)
		duration := time.Since(start)

		if err == nil {
			result := &ExecutionResult{
				Success:  true,
				State:    resolveState(out, state),
				Duration: duration,
				Metadata: map[string]any{},
			}
			e.notify(ec, func() error {
				return e.notifier.SendAgentCompleted(ctx, ec.NotifyMeta(), nil, duration.Milliseconds())
			})
			e.record(ec, result)
			return result
		}

		if ec.RetryCount < ec.MaxRetries && ctx.Err() == nil {
			delay := time.Duration(1<<uint(ec.RetryCount)) * time.Second
			e.logger.Warn("Agent %s failed (attempt %d/%d), immediate retry in %v: %v",
				ec.AgentName, ec.RetryCount+1, ec.MaxRetries, delay, err)
			ec.RetryCount++
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return e.finalFallbackResult(ctx, ec, sleepErr)
			}
			continue
		}

		e.logger.Warn("Agent %s exhausted %d immediate retries, delegating to fallback layer: %v",
			ec.AgentName, ec.MaxRetries, err)
		result := e.executeWithFallback(ctx, ec, state, true)
		return result
	}
}

// executeWithFallback is the fallback-wrapped invocation path used by the
// pipeline executor and by exhausted ExecuteAgent calls. It layers three
// behaviors over the fallback handler: a circuit-open result that preserves
// the ExecutionResult shape and emits the domain notification, wrapping of
// raw fallback payloads into successful degraded results, and a defensive
// final-fallback catch for anything that escapes the handler. When
// alreadyStarted is set the caller has emitted agent_started for this
// invocation; the event never repeats.
func (e *Engine) executeWithFallback(ctx context.Context, ec *ExecutionContext, state State, alreadyStarted bool) (result *ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = e.finalFallbackResult(ctx, ec, fmt.Errorf("unexpected panic: %v", r))
		}
	}()

	agent, ok := e.registry.Get(ec.AgentName)
	if !ok {
		result = &ExecutionResult{
			Success:  false,
			Error:    fmt.Sprintf("agent %s not found in registry", ec.AgentName),
			Metadata: map[string]any{},
		}
		e.record(ec, result)
		return result
	}

	if e.fallback.CircuitOpen(ec.AgentName) {
		e.notify(ec, func() error {
			return e.notifier.SendFallbackNotification(ctx, ec.NotifyMeta(), "circuit_breaker")
		})
		payload := e.fallback.Catalog().Get(e.fallback.TypeFor(ec.AgentName), nil)
		result = &ExecutionResult{
			Success:  true,
			State:    state,
			Duration: circuitFallbackDuration,
			Metadata: map[string]any{
				MetaCircuitFallback: true,
				MetaFallbackData:    payload,
			},
		}
		e.record(ec, result)
		return result
	}

	if !alreadyStarted {
		e.notify(ec, func() error {
			return e.notifier.SendAgentStarted(ctx, ec.NotifyMeta())
		})
	}

	start := time.Now()
	op := func(opCtx context.Context) (any, error) {
		out, err := agent.Execute(opCtx, state, ec.RunID, true)
		if err != nil {
			return nil, err
		}
		return resolveState(out, state), nil
	}
	opName := fmt.Sprintf("%s.execute", ec.AgentName)
	out, err := e.fallback.ExecuteWithFallback(ctx, op, opName, ec.AgentName, e.fallback.TypeFor(ec.AgentName))
	duration := time.Since(start)

	if err != nil {
		result = e.finalFallbackResult(ctx, ec, err)
		return result
	}

	switch v := out.(type) {
	case map[string]any:
		// The handler served a degraded catalog payload: a successful
		// outcome from the caller's perspective.
		e.notify(ec, func() error {
			return e.notifier.SendFallbackNotification(ctx, ec.NotifyMeta(), "retry_exhausted")
		})
		result = &ExecutionResult{
			Success:  true,
			State:    state,
			Duration: duration,
			Metadata: map[string]any{
				MetaFallbackUsed:       true,
				MetaFallbackAfterRetry: true,
				MetaFallbackData:       v,
			},
		}
	case State:
		result = &ExecutionResult{
			Success:  true,
			State:    v,
			Duration: duration,
			Metadata: map[string]any{},
		}
		e.notify(ec, func() error {
			return e.notifier.SendAgentCompleted(ctx, ec.NotifyMeta(), nil, duration.Milliseconds())
		})
	default:
		result = &ExecutionResult{
			Success:  true,
			State:    state,
			Duration: duration,
			Metadata: map[string]any{},
		}
		e.notify(ec, func() error {
			return e.notifier.SendAgentCompleted(ctx, ec.NotifyMeta(), nil, duration.Milliseconds())
		})
	}
	e.record(ec, result)
	return result
}

// finalFallbackResult is the defensive terminal path: the original error is
// preserved and the result reports failure, unlike retry-exhaustion
// degradation. The asymmetry is intentional — exhausted retries are a known
// degradation, a final fallback is an unhandled failure.
func (e *Engine) finalFallbackResult(ctx context.Context, ec *ExecutionContext, cause error) *ExecutionResult {
	e.logger.Error("Final fallback for agent %s: %v", ec.AgentName, cause)
	e.notify(ec, func() error {
		return e.notifier.SendFallbackNotification(ctx, ec.NotifyMeta(), "final")
	})
	e.recorder.IncFallback(ec.AgentName, "final")

	result := &ExecutionResult{
		Success:  false,
		Error:    cause.Error(),
		Metadata: map[string]any{MetaFinalFallback: true},
	}
	e.record(ec, result)
	return result
}

// record appends the result to run history and observes metrics.
func (e *Engine) record(ec *ExecutionContext, result *ExecutionResult) {
	e.history.Add(result)
	e.recorder.ObserveExecution(ec.AgentName, result.Success, result.Duration)
}

// notify runs a best-effort notification send; failures are logged, never
// propagated as execution failures.
func (e *Engine) notify(ec *ExecutionContext, send func() error) {
	if err := send(); err != nil {
		e.logger.Warn("Notification failed for agent %s (run %s): %v", ec.AgentName, ec.RunID, err)
	}
}

// resolveState prefers the agent's returned state, falling back to the input
// when the agent mutated in place.
func resolveState(out State, in State) State {
	if out != nil {
		return out
	}
	return in
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
