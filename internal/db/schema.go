// Package db provides SQLite database management for aws-sidekick.
// Two databases live in the data directory: sidekick.db (account metadata,
// tasks, conversations) and sidekick-audit.db (append-only audit log).
// Credential secrets are never stored here.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const (
	MetadataDBFile = "sidekick.db"
	AuditDBFile    = "sidekick-audit.db"

	dsnOptions = "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
)

// MetadataSchema defines all tables for the main database.
const MetadataSchema = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

-- Registered accounts. Secrets live in the credential store, keyed by alias.
CREATE TABLE IF NOT EXISTS accounts (
    alias             TEXT PRIMARY KEY,
    description       TEXT NOT NULL DEFAULT '',
    kind              TEXT NOT NULL,            -- keys | profile
    region            TEXT NOT NULL DEFAULT 'us-east-1',
    profile           TEXT NOT NULL DEFAULT '',
    masked_key_id     TEXT NOT NULL DEFAULT '',
    is_default        INTEGER NOT NULL DEFAULT 0,
    account_id        TEXT NOT NULL DEFAULT '',
    principal         TEXT NOT NULL DEFAULT '',
    last_validated_at TEXT,
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_single_default ON accounts(is_default) WHERE is_default = 1;

-- Task records. account_alias is a snapshot, not a foreign key: records
-- outlive the accounts they ran under.
CREATE TABLE IF NOT EXISTS tasks (
    id              TEXT PRIMARY KEY,
    seq             INTEGER NOT NULL,
    description     TEXT NOT NULL,
    account_alias   TEXT NOT NULL,
    conversation_id TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    result          TEXT,
    error           TEXT,
    created_at      TEXT NOT NULL,
    completed_at    TEXT,
    duration_ms     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_account ON tasks(account_alias);

-- Conversations and their transcripts
CREATE TABLE IF NOT EXISTS conversations (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL DEFAULT '',
    bound_account   TEXT NOT NULL DEFAULT '',
    bound           INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,             -- ULID, sortable by creation
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    task_id         TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`

// AuditSchema defines the append-only audit log table.
const AuditSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS audit_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT NOT NULL,
    alias           TEXT DEFAULT '',
    task_id         TEXT DEFAULT '',
    operator        TEXT NOT NULL DEFAULT 'local',
    event_type      TEXT NOT NULL,
    detail          TEXT DEFAULT '{}',
    record_hash     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_log(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_alias ON audit_log(alias);
`

// OpenMetadataDB opens or creates the metadata database in dataDir.
func OpenMetadataDB(dataDir string) (*sql.DB, error) {
	return open(filepath.Join(dataDir, MetadataDBFile), MetadataSchema, "metadata")
}

// OpenAuditDB opens or creates the append-only audit database in dataDir.
func OpenAuditDB(dataDir string) (*sql.DB, error) {
	return open(filepath.Join(dataDir, AuditDBFile), AuditSchema, "audit")
}

func open(dbPath, schema, name string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", name, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing %s schema: %w", name, err)
	}

	return db, nil
}

// EnsureDataDir creates the data directory with owner-only permissions.
func EnsureDataDir(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}
