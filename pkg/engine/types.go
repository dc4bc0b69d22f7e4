// Package engine executes single agents and ordered/parallel pipelines of
// agent steps against a domain state, wrapping every invocation in the
// fallback machinery and preserving an observable event stream.
package engine

import (
	"context"
	"time"

	"optichat/pkg/notify"
)

// Strategy selects how a pipeline step is executed.
type Strategy string

const (
	// StrategySequential runs the step's single agent inline.
	StrategySequential Strategy = "sequential"
	// StrategyParallel fans out to every agent in the step's parallel_agents.
	StrategyParallel Strategy = "parallel"
)

// Metadata keys set on ExecutionResult by the fallback wrapping layers.
const (
	MetaFallbackUsed       = "fallback_used"
	MetaFallbackData       = "fallback_data"
	MetaFallbackAfterRetry = "fallback_after_retry"
	MetaCircuitFallback    = "circuit_breaker_fallback"
	MetaFinalFallback      = "final_fallback"
)

// Step metadata keys recognized by the pipeline executor.
const (
	StepMetaParallelAgents  = "parallel_agents"
	StepMetaContinueOnError = "continue_on_error"
)

// State is the opaque domain payload agents operate on. The engine only
// relies on merge semantics; everything else belongs to the domain.
type State interface {
	// MergeFrom folds another state's content into this one.
	MergeFrom(other State)
}

// Agent is a unit of domain logic invoked with the current state. A nil
// returned State means the agent mutated the input in place.
type Agent interface {
	Execute(ctx context.Context, state State, runID string, streamUpdates bool) (State, error)
}

// Registry resolves agent names to agent instances.
type Registry interface {
	Get(agentName string) (Agent, bool)
}

// ExecutionContext identifies one agent invocation attempt. Contexts are
// created fresh per pipeline step and never shared across requests; only
// RetryCount mutates during retries.
type ExecutionContext struct {
	RunID      string
	ThreadID   string
	UserID     string
	AgentName  string
	RetryCount int
	MaxRetries int
	Metadata   map[string]any
}

// ForAgent copies the context for a new target agent with a fresh retry
// count and an independent metadata map.
func (c *ExecutionContext) ForAgent(agentName string) *ExecutionContext {
	meta := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}
	return &ExecutionContext{
		RunID:      c.RunID,
		ThreadID:   c.ThreadID,
		UserID:     c.UserID,
		AgentName:  agentName,
		RetryCount: 0,
		MaxRetries: c.MaxRetries,
		Metadata:   meta,
	}
}

// NotifyMeta converts the context into the notification envelope.
func (c *ExecutionContext) NotifyMeta() notify.Meta {
	return notify.Meta{
		RunID:     c.RunID,
		ThreadID:  c.ThreadID,
		UserID:    c.UserID,
		AgentName: c.AgentName,
	}
}

// ExecutionResult is the outcome of one invocation. If Success is false,
// Error is always non-empty. A served fallback still reports Success=true
// (graceful degradation), except the terminal final-fallback case.
type ExecutionResult struct {
	Success  bool
	State    State
	Error    string
	Duration time.Duration
	Metadata map[string]any
}

// FallbackUsed reports whether any fallback flavor produced this result.
func (r *ExecutionResult) FallbackUsed() bool {
	if r.Metadata == nil {
		return false
	}
	for _, key := range []string{MetaFallbackUsed, MetaCircuitFallback, MetaFinalFallback} {
		if used, ok := r.Metadata[key].(bool); ok && used {
			return true
		}
	}
	return false
}

// Condition is an async predicate over domain state deciding whether a
// pipeline step runs. Evaluation failures skip the step, never abort the
// pipeline.
type Condition func(ctx context.Context, state State) (bool, error)

// PipelineStep is one unit of a pipeline.
type PipelineStep struct {
	AgentName string
	Condition Condition
	Strategy  Strategy
	Metadata  map[string]any
}

// ParallelAgents returns the agent names a parallel step fans out to.
func (s *PipelineStep) ParallelAgents() []string {
	raw, ok := s.Metadata[StepMetaParallelAgents]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		return names
	default:
		return nil
	}
}

// ContinueOnError reports whether the step opted in to being non-fatal.
func (s *PipelineStep) ContinueOnError() bool {
	v, ok := s.Metadata[StepMetaContinueOnError].(bool)
	return ok && v
}
