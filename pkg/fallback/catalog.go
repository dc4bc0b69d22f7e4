// Package fallback provides graceful-degradation machinery for agent
// invocations: canned fallback responses, circuit-breaker gating, and a
// bounded retry loop with backoff.
package fallback

import (
	"time"

	"optichat/pkg/config"
)

// Fallback type constants mapping agents to degraded-response categories.
const (
	TypeTriage       = "triage"
	TypeDataAnalysis = "data_analysis"
	TypeOptimization = "optimization"
	TypeActionPlan   = "action_plan"
	TypeReport       = "report"
	TypeGeneral      = "general"
)

// defaultAgentTypes maps agent names to fallback categories. Immutable after
// init; extensions go through HandlerOptions, never mutation.
var defaultAgentTypes = map[string]string{ //nolint:gochecknoglobals
	config.AgentTriage:       TypeTriage,
	config.AgentData:         TypeDataAnalysis,
	"SupplyResearcherAgent":  TypeDataAnalysis,
	"SyntheticDataGenerator": TypeDataAnalysis,
	config.AgentOptimization: TypeOptimization,
	config.AgentActionPlan:   TypeActionPlan,
	config.AgentReporting:    TypeReport,
}

// TypeForAgent resolves the fallback category for an agent name. Unknown
// agents degrade to the general apology.
func TypeForAgent(agentName string) string {
	if t, ok := defaultAgentTypes[agentName]; ok {
		return t
	}
	return TypeGeneral
}

// Catalog maps logical fallback types to canned degraded payloads.
type Catalog struct {
	responses map[string]map[string]any
	now       func() time.Time
}

// NewCatalog creates the catalog of canned degraded responses.
func NewCatalog() *Catalog {
	return newCatalogWithClock(time.Now)
}

func newCatalogWithClock(now func() time.Time) *Catalog {
	return &Catalog{
		now: now,
		responses: map[string]map[string]any{
			TypeTriage: {
				"category":             "general_inquiry",
				"confidence_score":     0.0,
				"priority":             "medium",
				"extracted_entities":   []any{},
				"tool_recommendations": []any{},
				"metadata": map[string]any{
					"fallback_used": true,
					"status":        "degraded",
				},
			},
			TypeDataAnalysis: {
				"insights":        []any{},
				"recommendations": []any{"Data analysis is temporarily unavailable. Please retry shortly."},
				"confidence":      0.0,
				"metadata": map[string]any{
					"fallback_used": true,
					"status":        "degraded",
				},
			},
			TypeOptimization: {
				"optimizations":    []any{},
				"estimated_impact": 0.0,
				"recommendations":  []any{"Optimization suggestions are temporarily unavailable."},
				"metadata": map[string]any{
					"fallback_used": true,
					"status":        "degraded",
				},
			},
			TypeActionPlan: {
				"actions":    []any{},
				"next_steps": []any{"Action planning is temporarily unavailable. Previous recommendations still apply."},
				"metadata": map[string]any{
					"fallback_used": true,
					"status":        "degraded",
				},
			},
			TypeReport: {
				"summary":  "Report generation is temporarily unavailable.",
				"sections": []any{},
				"metadata": map[string]any{
					"fallback_used": true,
					"status":        "degraded",
				},
			},
			TypeGeneral: {
				"message": "We're sorry — this service is temporarily degraded. Your request was received and we'll keep things moving.",
				"metadata": map[string]any{
					"fallback_used": true,
					"status":        "degraded",
				},
			},
		},
	}
}

// Get returns an independent copy of the canned payload for the fallback
// type, stamped with the triggering error when one is supplied. Unknown types
// resolve to the general payload. Callers own the returned map.
func (c *Catalog) Get(fallbackType string, cause error) map[string]any {
	canned, ok := c.responses[fallbackType]
	if !ok {
		canned = c.responses[TypeGeneral]
	}

	payload := deepCopyMap(canned)
	if cause != nil {
		meta, ok := payload["metadata"].(map[string]any)
		if !ok {
			meta = map[string]any{}
			payload["metadata"] = meta
		}
		meta["error"] = cause.Error()
		meta["timestamp"] = c.now().UTC().Format(time.RFC3339)
	}
	return payload
}

// deepCopyMap copies nested maps and slices so concurrent callers can never
// share mutable payload structure.
func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return v
	}
}
