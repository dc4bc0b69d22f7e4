// Package metrics provides Prometheus-based recording and querying for
// pipeline execution, retries, fallbacks, and circuit breaker activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records execution metrics to Prometheus. A nil *Recorder is safe
// to call; all methods no-op.
type Recorder struct {
	executionsTotal  *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	fallbacksTotal   *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	stepDuration     *prometheus.HistogramVec
	pipelineDuration *prometheus.HistogramVec
}

// NewRecorder creates a recorder registered on the default registry.
func NewRecorder() *Recorder {
	return NewRecorderWith(prometheus.DefaultRegisterer)
}

// NewRecorderWith creates a recorder registered on the given registerer.
// Tests pass a fresh registry to avoid duplicate-registration panics.
func NewRecorderWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optichat_agent_executions_total",
				Help: "Total agent executions by agent and status",
			},
			[]string{"agent", "status"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optichat_agent_retries_total",
				Help: "Total retry attempts by agent and failure kind",
			},
			[]string{"agent", "kind"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optichat_fallbacks_total",
				Help: "Total fallback responses served by agent and fallback flavor",
			},
			[]string{"agent", "flavor"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optichat_circuit_state",
				Help: "Circuit breaker state per target (0=closed, 1=open, 2=half-open)",
			},
			[]string{"target"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optichat_step_duration_seconds",
				Help:    "Duration of pipeline step executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		pipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optichat_pipeline_duration_seconds",
				Help:    "End-to-end pipeline duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

// ObserveExecution records a completed agent execution.
func (r *Recorder) ObserveExecution(agent string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.executionsTotal.WithLabelValues(agent, status).Inc()
	r.stepDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// IncRetry counts a retry attempt classified by failure kind.
func (r *Recorder) IncRetry(agent, kind string) {
	if r == nil {
		return
	}
	r.retriesTotal.WithLabelValues(agent, kind).Inc()
}

// IncFallback counts a served fallback. Flavor is one of "retry_exhausted",
// "circuit_open", or "final".
func (r *Recorder) IncFallback(agent, flavor string) {
	if r == nil {
		return
	}
	r.fallbacksTotal.WithLabelValues(agent, flavor).Inc()
}

// SetCircuitState records a breaker's state for a target.
func (r *Recorder) SetCircuitState(target string, state int) {
	if r == nil {
		return
	}
	r.circuitState.WithLabelValues(target).Set(float64(state))
}

// ObservePipeline records an end-to-end pipeline run.
func (r *Recorder) ObservePipeline(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.pipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
