package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrometheus answers /api/v1/query with a single-sample vector whose
// value depends on the metric being queried.
func fakePrometheus(t *testing.T, executions, fallbacks float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.FormValue("query")

		value := 0.0
		switch {
		case strings.Contains(query, "optichat_agent_executions_total"):
			value = executions
		case strings.Contains(query, "optichat_fallbacks_total"):
			value = fallbacks
		default:
			t.Errorf("unexpected query: %s", query)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w,
			`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"%g"]}]}}`,
			value)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetAgentHealthComputesDegradationRate(t *testing.T) {
	srv := fakePrometheus(t, 20, 5)

	query, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	health, err := query.GetAgentHealth(context.Background(), "DataSubAgent")
	require.NoError(t, err)

	assert.Equal(t, "DataSubAgent", health.Agent)
	assert.EqualValues(t, 20, health.Executions)
	assert.EqualValues(t, 5, health.Fallbacks)
	assert.Equal(t, 0.25, health.DegradationRate)
}

func TestGetAgentHealthZeroExecutions(t *testing.T) {
	srv := fakePrometheus(t, 0, 0)

	query, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	health, err := query.GetAgentHealth(context.Background(), "TriageSubAgent")
	require.NoError(t, err)

	assert.Zero(t, health.Executions)
	assert.Zero(t, health.DegradationRate, "no executions means no degradation signal")
}

func TestGetAgentHealthServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	query, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	_, err = query.GetAgentHealth(context.Background(), "DataSubAgent")
	require.Error(t, err)
}
