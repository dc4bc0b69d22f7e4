package engine

import (
	"encoding/json"
	"sync"
)

// MapState is a concurrency-safe map-backed State. Parallel branches may
// read and write it through separate copies that are merged afterwards.
type MapState struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMapState creates a MapState seeded with the given entries.
func NewMapState(seed map[string]any) *MapState {
	data := make(map[string]any, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &MapState{data: data}
}

// Set stores a value.
func (s *MapState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Get returns the value for key and whether it was present.
func (s *MapState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Snapshot returns a shallow copy of the state map.
func (s *MapState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// MergeFrom copies the other state's entries over this one's.
func (s *MapState) MergeFrom(other State) {
	o, ok := other.(*MapState)
	if !ok || o == s {
		return
	}
	snap := o.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range snap {
		s.data[k] = v
	}
}

// MarshalJSON serializes the underlying map.
func (s *MapState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON replaces the state's contents.
func (s *MapState) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = m
	return nil
}
