package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AgentStateRecord is one persisted state snapshot.
type AgentStateRecord struct {
	ID        int64
	RunID     string
	ThreadID  string
	UserID    string
	AgentName string
	StateJSON string
	CreatedAt time.Time
}

// RunOutcome is the persisted summary of a completed pipeline run.
type RunOutcome struct {
	RunID     string
	ThreadID  string
	UserID    string
	Success   bool
	StepCount int
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// SaveAgentState persists a state snapshot as JSON. The state value must be
// JSON-serializable; failures here are persistence failures, the pipeline
// keeps its in-memory state regardless.
func (s *Store) SaveAgentState(runID, threadID, userID, agentName string, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize state for run %s: %w", runID, err)
	}

	query := `
		INSERT INTO agent_states (run_id, thread_id, user_id, agent_name, state_json)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query, runID, threadID, userID, agentName, string(payload)); err != nil {
		return fmt.Errorf("failed to save agent state for run %s: %w", runID, err)
	}
	return nil
}

// GetAgentStates returns all state snapshots for a run, oldest first.
func (s *Store) GetAgentStates(runID string) ([]*AgentStateRecord, error) {
	query := `
		SELECT id, run_id, thread_id, user_id, agent_name, state_json, created_at
		FROM agent_states
		WHERE run_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent states for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var records []*AgentStateRecord
	for rows.Next() {
		rec := &AgentStateRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.ThreadID, &rec.UserID,
			&rec.AgentName, &rec.StateJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent state row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent state rows: %w", err)
	}
	return records, nil
}

// SaveRunOutcome upserts the summary row for a run.
func (s *Store) SaveRunOutcome(outcome *RunOutcome) error {
	query := `
		INSERT INTO run_outcomes (run_id, thread_id, user_id, success, step_count, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			success = excluded.success,
			step_count = excluded.step_count,
			error = excluded.error,
			duration_ms = excluded.duration_ms
	`
	_, err := s.db.Exec(query, outcome.RunID, outcome.ThreadID, outcome.UserID,
		boolToInt(outcome.Success), outcome.StepCount, outcome.Error, outcome.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to save outcome for run %s: %w", outcome.RunID, err)
	}
	return nil
}

// GetRunOutcome fetches one run summary. Returns sql.ErrNoRows when absent.
func (s *Store) GetRunOutcome(runID string) (*RunOutcome, error) {
	query := `
		SELECT run_id, thread_id, user_id, success, step_count, error, duration_ms, created_at
		FROM run_outcomes
		WHERE run_id = ?
	`
	var (
		outcome    RunOutcome
		success    int
		durationMS int64
	)
	err := s.db.QueryRow(query, runID).Scan(&outcome.RunID, &outcome.ThreadID, &outcome.UserID,
		&success, &outcome.StepCount, &outcome.Error, &durationMS, &outcome.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to query outcome for run %s: %w", runID, err)
	}
	outcome.Success = success != 0
	outcome.Duration = time.Duration(durationMS) * time.Millisecond
	return &outcome, nil
}

// RecentRuns returns the most recent run summaries, newest first.
func (s *Store) RecentRuns(limit int) ([]*RunOutcome, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT run_id, thread_id, user_id, success, step_count, error, duration_ms, created_at
		FROM run_outcomes
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outcomes []*RunOutcome
	for rows.Next() {
		var (
			outcome    RunOutcome
			success    int
			durationMS int64
		)
		if err := rows.Scan(&outcome.RunID, &outcome.ThreadID, &outcome.UserID,
			&success, &outcome.StepCount, &outcome.Error, &durationMS, &outcome.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run outcome row: %w", err)
		}
		outcome.Success = success != 0
		outcome.Duration = time.Duration(durationMS) * time.Millisecond
		outcomes = append(outcomes, &outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run outcome rows: %w", err)
	}
	return outcomes, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
