package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// AgentHealth represents aggregated degradation metrics for one agent.
type AgentHealth struct {
	Agent           string  `json:"agent"`
	Executions      int64   `json:"executions"`
	Fallbacks       int64   `json:"fallbacks"`
	DegradationRate float64 `json:"degradation_rate"`
}

// QueryService queries aggregated execution metrics from a Prometheus server.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service for the given Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetAgentHealth retrieves execution and fallback totals for an agent and
// computes its degradation rate (fallbacks / executions).
func (q *QueryService) GetAgentHealth(ctx context.Context, agent string) (*AgentHealth, error) {
	health := &AgentHealth{Agent: agent}

	execQuery := fmt.Sprintf(`sum(optichat_agent_executions_total{agent=%q})`, agent)
	execResult, _, err := q.queryAPI.Query(ctx, execQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	if vector, ok := execResult.(model.Vector); ok && len(vector) > 0 {
		health.Executions = int64(vector[0].Value)
	}

	fallbackQuery := fmt.Sprintf(`sum(optichat_fallbacks_total{agent=%q})`, agent)
	fallbackResult, _, err := q.queryAPI.Query(ctx, fallbackQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query fallbacks: %w", err)
	}
	if vector, ok := fallbackResult.(model.Vector); ok && len(vector) > 0 {
		health.Fallbacks = int64(vector[0].Value)
	}

	if health.Executions > 0 {
		health.DegradationRate = float64(health.Fallbacks) / float64(health.Executions)
	}
	return health, nil
}
