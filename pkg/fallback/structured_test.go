package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triageResult struct {
	Category        string
	ConfidenceScore float64
	Priority        string
	Entities        []string
	ToolHints       map[string]string
	Nested          triageNested
}

type triageNested struct {
	Tags []string
}

func TestExecuteStructuredSuccess(t *testing.T) {
	h := newTestHandler(3, 3)

	result, err := ExecuteStructured(context.Background(), h, func(_ context.Context) (triageResult, error) {
		return triageResult{Category: "cost_spike", ConfidenceScore: 0.9}, nil
	}, "triage", "TriageSubAgent")

	require.NoError(t, err)
	assert.Equal(t, "cost_spike", result.Category)
	assert.Equal(t, 0.9, result.ConfidenceScore)
}

func TestExecuteStructuredExhaustionBuildsDefaults(t *testing.T) {
	h := newTestHandler(2, 100)

	calls := 0
	result, err := ExecuteStructured(context.Background(), h, func(_ context.Context) (triageResult, error) {
		calls++
		return triageResult{}, errors.New("rate limit exceeded")
	}, "triage", "TriageSubAgent")

	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	// Minimal valid instance: zero scalars, empty (non-nil) collections.
	assert.Equal(t, "", result.Category)
	assert.Equal(t, 0.0, result.ConfidenceScore)
	assert.NotNil(t, result.Entities)
	assert.Empty(t, result.Entities)
	assert.NotNil(t, result.ToolHints)
	assert.NotNil(t, result.Nested.Tags, "nested struct collections must be initialized too")
}

func TestExecuteStructuredPointerSchema(t *testing.T) {
	h := newTestHandler(1, 100)

	result, err := ExecuteStructured(context.Background(), h, func(_ context.Context) (*triageResult, error) {
		return nil, errors.New("api error 500")
	}, "triage", "TriageSubAgent")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotNil(t, result.Entities)
}

func TestExecuteStructuredCircuitOpen(t *testing.T) {
	h := newTestHandler(2, 2)

	// Open the breaker.
	_, err := ExecuteStructured(context.Background(), h, func(_ context.Context) (triageResult, error) {
		return triageResult{}, errors.New("api error 500")
	}, "triage", "TriageSubAgent")
	require.NoError(t, err)

	calls := 0
	result, err := ExecuteStructured(context.Background(), h, func(_ context.Context) (triageResult, error) {
		calls++
		return triageResult{Category: "should not run"}, nil
	}, "triage", "TriageSubAgent")

	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "", result.Category)
	assert.NotNil(t, result.Entities)
}

func TestExecuteStructuredUnsupportedSchemaFails(t *testing.T) {
	h := newTestHandler(1, 100)

	// A bare string cannot be defaulted into a structured fallback; this is
	// a contract violation that must surface, not be swallowed.
	_, err := ExecuteStructured(context.Background(), h, func(_ context.Context) (string, error) {
		return "", errors.New("network down")
	}, "op", "TriageSubAgent")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot build fallback instance")
}

func TestExecuteStructuredCancellation(t *testing.T) {
	h := newTestHandler(3, 100)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := ExecuteStructured(ctx, h, func(_ context.Context) (triageResult, error) {
		return triageResult{}, errors.New("whatever")
	}, "op", "TriageSubAgent")

	require.Error(t, err)
}
