// Package storage implements sqlite persistence for sessions, user
// sessions, and the credit ledger. The in-memory components own correctness;
// this package is the durability layer they write through.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the sqlite database shared by all persisted components.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	org_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	config TEXT NOT NULL,
	research_goal TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_activity_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_entries (
	session_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	entry_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (session_id, position)
);

CREATE TABLE IF NOT EXISTS context_entries (
	session_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	entry_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (session_id, position)
);

CREATE TABLE IF NOT EXISTS user_sessions (
	user_id TEXT NOT NULL,
	session_token TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	last_activity TIMESTAMP NOT NULL,
	active INTEGER NOT NULL,
	PRIMARY KEY (user_id, session_token)
);
CREATE INDEX IF NOT EXISTS idx_user_sessions_active ON user_sessions (user_id, active);

CREATE TABLE IF NOT EXISTS credit_allocations (
	user_id TEXT NOT NULL,
	org_id TEXT NOT NULL DEFAULT '',
	remaining INTEGER NOT NULL,
	credit_limit INTEGER NOT NULL,
	unlimited INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, org_id)
);

CREATE TABLE IF NOT EXISTS credit_history (
	reservation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	org_id TEXT NOT NULL DEFAULT '',
	op TEXT NOT NULL,
	amount INTEGER NOT NULL,
	action_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS org_members (
	org_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (org_id, user_id)
);
`

// Open opens (or creates) the database at dsn and applies the schema.
// Use "file::memory:?cache=shared" or ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage: dsn is required")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	// sqlite serializes writers; a single connection avoids lock contention
	// errors under concurrent writeback.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for component-specific queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
