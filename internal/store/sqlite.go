// Package store persists patrol tasks and executions in SQLite.
// Structured payloads (URL lists, configs, result lists) live in JSON
// columns; everything the queries filter or sort on has its own column.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS patrol_tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	urls TEXT NOT NULL DEFAULT '[]',
	notification_targets TEXT NOT NULL DEFAULT '[]',
	schedule TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	config TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS patrol_executions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	total_urls INTEGER NOT NULL DEFAULT 0,
	passed_urls INTEGER NOT NULL DEFAULT 0,
	failed_urls INTEGER NOT NULL DEFAULT 0,
	results TEXT NOT NULL DEFAULT '[]',
	notified INTEGER NOT NULL DEFAULT 0,
	notified_at DATETIME,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_patrol_executions_task
	ON patrol_executions(task_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_patrol_executions_started
	ON patrol_executions(started_at DESC);
`

// Store owns the SQLite database and hands out the repositories.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open initializes the database at path, creating the directory and
// schema as needed.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		// NORMAL is safe under WAL and much faster than FULL.
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Info("store opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Tasks returns the task repository.
func (s *Store) Tasks() *TaskStore {
	return &TaskStore{db: s.db}
}

// Executions returns the execution repository.
func (s *Store) Executions() *ExecutionStore {
	return &ExecutionStore{db: s.db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
