package persistence

import "context"

// initSchema creates all required tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		project_dir TEXT NOT NULL,
		prd_path TEXT NOT NULL,
		bootstrap_path TEXT,
		claude_md_path TEXT,
		status TEXT NOT NULL DEFAULT 'initialized',
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS phases (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		UNIQUE(project_id, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_phases_project ON phases(project_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		phase_id TEXT NOT NULL REFERENCES phases(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		brief_path TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 1,
		error_context TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		UNIQUE(phase_id, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_phase ON tasks(phase_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		depends_on_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		PRIMARY KEY (task_id, depends_on_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON task_dependencies(depends_on_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		pane INTEGER NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		log_path TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		exit_code INTEGER,
		started_at TEXT NOT NULL DEFAULT (datetime('now')),
		ended_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_task ON sessions(task_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		payload TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS bootstrap_checks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		check_name TEXT NOT NULL,
		check_type TEXT NOT NULL,
		command TEXT NOT NULL,
		expected TEXT,
		actual_output TEXT,
		passed INTEGER NOT NULL DEFAULT 0,
		run_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_bootstrap_project ON bootstrap_checks(project_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
