// Package store provides storage backends for the pairing-attempt log.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/yourclaw/clawlink/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists pairing attempts in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AddAttempt records a newly started attempt.
func (s *SQLiteStore) AddAttempt(a models.PairingAttempt) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO pairing_attempts (id, user_id, claw_id, outcome, detail, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ClawID, string(a.Outcome), nilIfEmpty(a.Detail), a.StartedAt, a.EndedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AddAttempt failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to insert attempt %s: %w", a.ID, err)
	}
	slog.Debug("SQLiteStore.AddAttempt succeeded", "id", a.ID, "user_id", a.UserID)
	return nil
}

// UpdateAttemptOutcome records how an attempt ended.
func (s *SQLiteStore) UpdateAttemptOutcome(id string, outcome models.AttemptOutcome, detail string) error {
	res, err := s.db.Exec(
		`UPDATE pairing_attempts SET outcome = ?, detail = ?, ended_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(outcome), nilIfEmpty(detail), id,
	)
	if err != nil {
		slog.Error("SQLiteStore.UpdateAttemptOutcome failed", "error", err, "id", id)
		return fmt.Errorf("failed to update attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s not found", id)
	}
	return nil
}

// ListAttempts returns the most recent attempts for a user, newest first.
func (s *SQLiteStore) ListAttempts(userID string, limit int) ([]models.PairingAttempt, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, claw_id, outcome, detail, started_at, ended_at FROM pairing_attempts WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.ListAttempts query failed", "error", err)
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
