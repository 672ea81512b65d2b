package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows a single writer; the import path serializes all its
	// writes through one transaction anyway, so one connection avoids
	// SQLITE_BUSY storms between the two tick loops.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		ticket_prefix TEXT NOT NULL,
		next_ticket_seq INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS columns (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		title TEXT NOT NULL,
		position INTEGER NOT NULL,
		FOREIGN KEY (board_id) REFERENCES boards(id)
	);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		column_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		ticket_key TEXT NOT NULL,
		position INTEGER NOT NULL,
		pr_url TEXT NOT NULL DEFAULT '',
		disable_auto_close BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (board_id) REFERENCES boards(id),
		FOREIGN KEY (column_id) REFERENCES columns(id),
		UNIQUE(board_id, ticket_key)
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		board_id TEXT NOT NULL,
		repo_path TEXT NOT NULL,
		auto_close_on_pr_merge BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (board_id) REFERENCES boards(id)
	);

	CREATE TABLE IF NOT EXISTS project_sync (
		project_id TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT 0,
		state_filter TEXT NOT NULL DEFAULT 'open',
		interval_minutes INTEGER NOT NULL DEFAULT 60,
		in_progress BOOLEAN NOT NULL DEFAULT 0,
		last_run_at TIMESTAMP,
		last_outcome TEXT,
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	CREATE TABLE IF NOT EXISTS issue_mappings (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		card_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		issue_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		title_snapshot TEXT NOT NULL,
		state TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (board_id) REFERENCES boards(id),
		FOREIGN KEY (card_id) REFERENCES cards(id),
		UNIQUE(board_id, owner, repo, issue_number)
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
