package persistence

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_states (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	thread_id    TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	agent_name   TEXT NOT NULL,
	state_json   TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_agent_states_run ON agent_states(run_id);
CREATE INDEX IF NOT EXISTS idx_agent_states_thread ON agent_states(thread_id);

CREATE TABLE IF NOT EXISTS run_outcomes (
	run_id       TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	success      INTEGER NOT NULL,
	step_count   INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_run_outcomes_thread ON run_outcomes(thread_id);
`

func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
