package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS user (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS instance (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	role TEXT NOT NULL,
	credentials_file TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	server_version TEXT,
	last_seen_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS policy (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	schedule TEXT NOT NULL DEFAULT '',
	retention_count INTEGER,
	retention_days INTEGER,
	max_duration_sec INTEGER,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (instance_id) REFERENCES instance(id)
);

CREATE TABLE IF NOT EXISTS job (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id INTEGER NOT NULL,
	policy_id INTEGER,
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	pid INTEGER,
	exit_code INTEGER,
	detail TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	ended_at DATETIME,
	FOREIGN KEY (instance_id) REFERENCES instance(id),
	FOREIGN KEY (policy_id) REFERENCES policy(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS artifact (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id INTEGER NOT NULL,
	job_id INTEGER,
	session_id INTEGER,
	kind TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	checksum TEXT NOT NULL DEFAULT '',
	expires_at DATETIME,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (instance_id) REFERENCES instance(id),
	FOREIGN KEY (job_id) REFERENCES job(id),
	FOREIGN KEY (session_id) REFERENCES stream_session(id),
	CHECK ((job_id IS NULL) <> (session_id IS NULL))
);

CREATE TABLE IF NOT EXISTS stream_session (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id INTEGER NOT NULL,
	state TEXT NOT NULL,
	log_file TEXT NOT NULL DEFAULT '',
	log_pos INTEGER NOT NULL DEFAULT 0,
	pid INTEGER,
	failures INTEGER NOT NULL DEFAULT 0,
	last_heartbeat DATETIME,
	detail TEXT,
	started_at DATETIME NOT NULL,
	superseded_at DATETIME,
	FOREIGN KEY (instance_id) REFERENCES instance(id)
);

-- One enabled policy per (instance, kind)
CREATE UNIQUE INDEX IF NOT EXISTS idx_policy_active
	ON policy(instance_id, kind) WHERE enabled = 1;

-- One non-terminal job per (instance, kind): the ledger's slot invariant,
-- enforced by the store so it holds across writers and restarts
CREATE UNIQUE INDEX IF NOT EXISTS idx_job_slot
	ON job(instance_id, kind) WHERE state IN ('pending', 'running', 'cancelling');

-- One current stream session per instance; superseded ones are history
CREATE UNIQUE INDEX IF NOT EXISTS idx_stream_active
	ON stream_session(instance_id) WHERE superseded_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_job_instance ON job(instance_id, kind, state);
CREATE INDEX IF NOT EXISTS idx_job_created ON job(created_at);
CREATE INDEX IF NOT EXISTS idx_artifact_instance ON artifact(instance_id, kind, created_at);
CREATE INDEX IF NOT EXISTS idx_artifact_expires ON artifact(expires_at);
CREATE INDEX IF NOT EXISTS idx_policy_instance ON policy(instance_id);
`

type DB struct {
	*sqlx.DB
}

func New(dbPath string) (*DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Enable WAL mode for better concurrency (allows concurrent reads/writes)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to handle concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Durability before visibility: every committed write is synced
	if _, err := db.Exec("PRAGMA synchronous = FULL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// NullString helper for optional string fields
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullInt64 helper for optional int64 fields
func NullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// NullInt helper for optional int fields
func NullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// NullTime helper for optional time fields
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
