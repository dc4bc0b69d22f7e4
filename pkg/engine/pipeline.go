package engine

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ExecutePipeline runs steps in order against a shared state, returning one
// result per executed step. A skipped condition produces no result. A failed
// step halts the pipeline unless the step opts into continue_on_error;
// results collected so far are always returned.
func (e *Engine) ExecutePipeline(ctx context.Context, ec *ExecutionContext, steps []PipelineStep, state State) []*ExecutionResult {
	results := make([]*ExecutionResult, 0, len(steps))

	for i := range steps {
		step := &steps[i]

		if ctx.Err() != nil {
			e.logger.Warn("Pipeline %s cancelled before step %d (%s)", ec.RunID, i, step.AgentName)
			break
		}

		if !e.evalCondition(ctx, ec, step, state) {
			continue
		}

		var result *ExecutionResult
		if step.Strategy == StrategyParallel {
			result = e.executeParallelStep(ctx, ec, step, state)
		} else {
			result = e.executeWithFallback(ctx, ec.ForAgent(step.AgentName), state, false)
		}
		results = append(results, result)

		if result.Success && result.State != nil {
			state = result.State
		}

		if !result.Success && !step.ContinueOnError() {
			e.logger.Warn("Pipeline %s halted at step %d (%s): %s", ec.RunID, i, step.AgentName, result.Error)
			break
		}
	}

	return results
}

// evalCondition decides whether a step runs. A condition that errors or
// panics skips the step rather than failing the pipeline.
func (e *Engine) evalCondition(ctx context.Context, ec *ExecutionContext, step *PipelineStep, state State) (run bool) {
	if step.Condition == nil {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Condition for step %s panicked, skipping: %v", step.AgentName, r)
			run = false
		}
	}()

	ok, err := step.Condition(ctx, state)
	if err != nil {
		e.logger.Warn("Condition for step %s failed, skipping: %v", step.AgentName, err)
		return false
	}
	if !ok {
		e.logger.Debug("Condition for step %s not met, skipping (run %s)", step.AgentName, ec.RunID)
	}
	return ok
}

// executeParallelStep fans a step out to its parallel agents. Each branch
// gets an independent execution context and runs to completion regardless of
// sibling outcomes; a failing branch never cancels the others.
func (e *Engine) executeParallelStep(ctx context.Context, ec *ExecutionContext, step *PipelineStep, state State) *ExecutionResult {
	agents := step.ParallelAgents()
	if len(agents) == 0 {
		agents = []string{step.AgentName}
	}

	branchResults := make([]*ExecutionResult, len(agents))
	var wg sync.WaitGroup
	for i, name := range agents {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Parallel branch %s panicked: %v", name, r)
					branchResults[i] = &ExecutionResult{
						Success:  false,
						Error:    "branch panicked",
						Metadata: map[string]any{},
					}
				}
			}()
			branchResults[i] = e.executeWithFallback(ctx, ec.ForAgent(name), state, false)
		}(i, name)
	}
	wg.Wait()

	return mergeParallelResults(branchResults, state)
}

// mergeParallelResults folds branch outcomes into a single step result:
// success only when every branch succeeded, errors joined, durations summed.
func mergeParallelResults(branches []*ExecutionResult, state State) *ExecutionResult {
	merged := &ExecutionResult{
		Success:  true,
		State:    state,
		Metadata: map[string]any{},
	}

	var errs []string
	var total time.Duration
	for _, br := range branches {
		if br == nil {
			continue
		}
		if !br.Success {
			merged.Success = false
			if br.Error != "" {
				errs = append(errs, br.Error)
			}
		}
		total += br.Duration
		if br.Success && br.State != nil {
			if merged.State != nil {
				merged.State.MergeFrom(br.State)
			} else {
				merged.State = br.State
			}
		}
		for k, v := range br.Metadata {
			merged.Metadata[k] = v
		}
	}
	merged.Duration = total
	merged.Error = strings.Join(errs, "; ")
	return merged
}
