// Package supervisor runs complete pipelines: it assigns run IDs, drives the
// execution engine, folds step states together, persists outcomes, and
// notifies clients on completion.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"optichat/pkg/engine"
	"optichat/pkg/logx"
	"optichat/pkg/metrics"
	"optichat/pkg/notify"
	"optichat/pkg/persistence"
)

// PipelineExecutor owns one engine and runs pipelines against it.
type PipelineExecutor struct {
	engine   *engine.Engine
	store    *persistence.Store
	notifier notify.Notifier
	recorder *metrics.Recorder
	logger   *logx.Logger
}

// Options customizes executor construction. Store may be nil to skip
// persistence, Notifier defaults to a no-op.
type Options struct {
	Store    *persistence.Store
	Notifier notify.Notifier
	Recorder *metrics.Recorder
}

// New creates a pipeline executor.
func New(eng *engine.Engine, opts Options) *PipelineExecutor {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &PipelineExecutor{
		engine:   eng,
		store:    opts.Store,
		notifier: notifier,
		recorder: opts.Recorder,
		logger:   logx.NewLogger("supervisor"),
	}
}

// RunResult is the aggregate outcome of a pipeline run.
type RunResult struct {
	RunID    string
	Success  bool
	State    engine.State
	Steps    []*engine.ExecutionResult
	Duration time.Duration
}

// Run executes the pipeline against the initial state and returns the
// aggregate result. A failed step yields an error alongside the partial
// result so callers can surface what completed before the failure.
func (p *PipelineExecutor) Run(ctx context.Context, threadID, userID string, steps []engine.PipelineStep, state engine.State) (*RunResult, error) {
	runID := uuid.New().String()
	ec := &engine.ExecutionContext{
		RunID:    runID,
		ThreadID: threadID,
		UserID:   userID,
		Metadata: map[string]any{},
	}

	p.logger.Info("Starting pipeline run %s (%d steps, thread %s)", runID, len(steps), threadID)

	start := time.Now()
	results := p.engine.ExecutePipeline(ctx, ec, steps, state)
	duration := time.Since(start)

	merged, success, runErr := p.fold(results, state)

	p.persist(runID, threadID, userID, results, merged, success, duration, runErr)

	if err := p.notifier.SendPipelineCompleted(ctx, ec.NotifyMeta(), success, len(results)); err != nil {
		p.logger.Warn("Pipeline completion notification failed for run %s: %v", runID, err)
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	p.recorder.ObservePipeline(outcome, duration)

	result := &RunResult{
		RunID:    runID,
		Success:  success,
		State:    merged,
		Steps:    results,
		Duration: duration,
	}
	if runErr != nil {
		p.logger.Error("Pipeline run %s failed after %v: %v", runID, duration, runErr)
		return result, runErr
	}
	p.logger.Info("Pipeline run %s completed in %v (%d steps)", runID, duration, len(results))
	return result, nil
}

// fold merges the states of successful steps into the initial state and
// derives the run-level outcome. The first hard failure becomes the run
// error; degraded (fallback-served) steps count as successes.
func (p *PipelineExecutor) fold(results []*engine.ExecutionResult, state engine.State) (engine.State, bool, error) {
	success := true
	var runErr error
	for i, r := range results {
		if !r.Success {
			success = false
			if runErr == nil {
				runErr = fmt.Errorf("pipeline step %d failed: %s", i, r.Error)
			}
			continue
		}
		if r.State != nil && r.State != state && state != nil {
			state.MergeFrom(r.State)
		}
	}
	return state, success, runErr
}

// persist writes the run outcome and final state snapshot. Persistence
// failures are logged, never turned into run failures.
func (p *PipelineExecutor) persist(runID, threadID, userID string, results []*engine.ExecutionResult, state engine.State, success bool, duration time.Duration, runErr error) {
	if p.store == nil {
		return
	}

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	outcome := &persistence.RunOutcome{
		RunID:     runID,
		ThreadID:  threadID,
		UserID:    userID,
		Success:   success,
		StepCount: len(results),
		Error:     errText,
		Duration:  duration,
	}
	if err := p.store.SaveRunOutcome(outcome); err != nil {
		p.logger.Warn("Failed to persist outcome for run %s: %v", runID, err)
	}

	if state != nil {
		if err := p.store.SaveAgentState(runID, threadID, userID, "pipeline", state); err != nil {
			p.logger.Warn("Failed to persist final state for run %s: %v", runID, err)
		}
	}
}
