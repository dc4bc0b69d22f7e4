package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStateMergeFrom(t *testing.T) {
	base := NewMapState(map[string]any{"a": 1, "b": "old"})
	other := NewMapState(map[string]any{"b": "new", "c": true})

	base.MergeFrom(other)

	snap := base.Snapshot()
	assert.Equal(t, 1, snap["a"])
	assert.Equal(t, "new", snap["b"])
	assert.Equal(t, true, snap["c"])
}

func TestMapStateMergeFromSelfIsNoop(t *testing.T) {
	s := NewMapState(map[string]any{"a": 1})
	s.MergeFrom(s)
	_, ok := s.Get("a")
	assert.True(t, ok)
}

func TestMapStateJSONRoundTrip(t *testing.T) {
	s := NewMapState(map[string]any{"category": "supply_chain", "score": 0.5})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := NewMapState(nil)
	require.NoError(t, json.Unmarshal(data, restored))

	v, ok := restored.Get("category")
	require.True(t, ok)
	assert.Equal(t, "supply_chain", v)
}

func TestMapRegistry(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("TriageSubAgent")
	assert.False(t, ok)

	agent := succeedingAgent("triaged")
	reg.Register("TriageSubAgent", agent)

	got, ok := reg.Get("TriageSubAgent")
	require.True(t, ok)
	assert.Same(t, agent, got)
	assert.Equal(t, []string{"TriageSubAgent"}, reg.Names())
}
