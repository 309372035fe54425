// Package store is the Activity Store: the durable relational record of
// sessions, prompt batches, activities, observations, resolution events,
// plans, and governance audit events. It is the source of truth; the
// vector index is a derivative that must be rebuildable from here alone.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is the format used to persist time.Time columns, matching the
// layout SQLite's datetime() functions produce so ORDER BY and comparisons
// work lexically.
const timeLayout = "2006-01-02 15:04:05"

// Store wraps a SQLite database holding all relational daemon state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dsnPath, in WAL mode with
// foreign keys enabled, and runs migrations.
func Open(dsnPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsnPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewFromDB wraps an existing *sql.DB and runs migrations. Used by tests
// with an in-memory database.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Vacuum reclaims space. Must be called outside any open transaction.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS daemon_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL DEFAULT '',
			source_machine_id TEXT NOT NULL DEFAULT '',
			project_root TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL DEFAULT (datetime('now')),
			ended_at TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			summary TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			title_manually_edited INTEGER NOT NULL DEFAULT 0,
			parent_session_id TEXT NOT NULL DEFAULT '',
			parent_reason TEXT NOT NULL DEFAULT '',
			transcript_path TEXT NOT NULL DEFAULT '',
			summary_embedded INTEGER NOT NULL DEFAULT 0,
			first_prompt_preview TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS prompt_batches (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			prompt_number INTEGER NOT NULL,
			user_prompt TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT 'user',
			classification TEXT NOT NULL DEFAULT '',
			plan_file_path TEXT NOT NULL DEFAULT '',
			plan_content TEXT NOT NULL DEFAULT '',
			response_summary TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL DEFAULT (datetime('now')),
			ended_at TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			processed INTEGER NOT NULL DEFAULT 0,
			error_annotation TEXT NOT NULL DEFAULT '',
			UNIQUE(session_id, prompt_number)
		);
		CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			prompt_batch_id TEXT REFERENCES prompt_batches(id) ON DELETE SET NULL,
			tool_use_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tool_input_json TEXT NOT NULL DEFAULT '{}',
			tool_output_summary TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 1,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			dedup_key TEXT NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS observations (
			id TEXT PRIMARY KEY,
			memory_type TEXT NOT NULL,
			observation TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			source_session_id TEXT NOT NULL DEFAULT '',
			source_batch_id TEXT NOT NULL DEFAULT '',
			source_machine_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			superseded_by TEXT NOT NULL DEFAULT '',
			session_origin_type TEXT NOT NULL DEFAULT 'mixed',
			importance INTEGER NOT NULL DEFAULT 5,
			archived INTEGER NOT NULL DEFAULT 0,
			dedup_hash TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS resolution_events (
			id TEXT PRIMARY KEY,
			observation_id TEXT NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
			action TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			embedded INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS governance_audit_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			rule_name TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'observe',
			message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			next_run_at TEXT,
			last_run_at TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`); err != nil {
		return err
	}

	// ALTER TABLE statements for forward migrations on pre-existing
	// databases. Errors are expected once the column already exists.
	for _, q := range []string{
		`ALTER TABLE sessions ADD COLUMN summary_embedded INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE prompt_batches ADD COLUMN error_annotation TEXT NOT NULL DEFAULT ''`,
	} {
		s.db.Exec(q) //nolint:errcheck // column may already exist
	}

	if _, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_prompt_batches_session ON prompt_batches(session_id);
		CREATE INDEX IF NOT EXISTS idx_activities_session ON activities(session_id);
		CREATE INDEX IF NOT EXISTS idx_activities_batch ON activities(prompt_batch_id);
		CREATE INDEX IF NOT EXISTS idx_observations_status ON observations(status);
		CREATE INDEX IF NOT EXISTS idx_observations_context ON observations(context);
		CREATE INDEX IF NOT EXISTS idx_resolution_events_obs ON resolution_events(observation_id);
		CREATE INDEX IF NOT EXISTS idx_governance_audit_created ON governance_audit_events(created_at);
	`); err != nil {
		return err
	}

	return s.recordMigrationVersion(1)
}

func (s *Store) recordMigrationVersion(v int) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, v)
	return err
}

// CheckInstallRoot compares the recorded package installation root against
// the given one, records the new root, and reports drift by returning
// changed=true; err is non-nil only when reading or writing the record
// fails.
func (s *Store) CheckInstallRoot(root string) (changed bool, err error) {
	var prev string
	row := s.db.QueryRow(`SELECT value FROM daemon_meta WHERE key = 'install_root'`)
	scanErr := row.Scan(&prev)
	if scanErr == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO daemon_meta (key, value) VALUES ('install_root', ?)`, root)
		return false, err
	}
	if scanErr != nil {
		return false, scanErr
	}
	if prev != root {
		_, err = s.db.Exec(`UPDATE daemon_meta SET value = ? WHERE key = 'install_root'`, root)
		return true, err
	}
	return false, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
