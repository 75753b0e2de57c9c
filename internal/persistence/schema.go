package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS response_cache (
		cache_key TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		content TEXT NOT NULL,
		provider TEXT NOT NULL,
		tokens_used INTEGER NOT NULL,
		response_time_ms INTEGER NOT NULL,
		relevance REAL NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contributions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		role TEXT NOT NULL,
		contribution_type TEXT NOT NULL,
		prompt TEXT NOT NULL,
		content TEXT NOT NULL,
		quality REAL NOT NULL,
		tokens_used INTEGER NOT NULL,
		response_time_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contributions_session
		ON contributions(session_id, id);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		total_time_ms INTEGER NOT NULL,
		consensus_achieved INTEGER NOT NULL,
		final_output TEXT NOT NULL,
		metadata TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_phases (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		consensus REAL NOT NULL,
		execution_time_ms INTEGER NOT NULL,
		agent_count INTEGER NOT NULL,
		quality_gates TEXT NOT NULL,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
