// Package store provides storage backends for the pairing-attempt log.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/yourclaw/clawlink/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists pairing attempts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AddAttempt records a newly started attempt.
func (s *PostgresStore) AddAttempt(a models.PairingAttempt) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO pairing_attempts (id, user_id, claw_id, outcome, detail, started_at, ended_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.ClawID, string(a.Outcome), nilIfEmpty(a.Detail), a.StartedAt, a.EndedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AddAttempt failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to insert attempt %s: %w", a.ID, err)
	}
	slog.Debug("PostgresStore.AddAttempt succeeded", "id", a.ID, "user_id", a.UserID)
	return nil
}

// UpdateAttemptOutcome records how an attempt ended.
func (s *PostgresStore) UpdateAttemptOutcome(id string, outcome models.AttemptOutcome, detail string) error {
	res, err := s.db.Exec(
		`UPDATE pairing_attempts SET outcome = $1, detail = $2, ended_at = NOW() WHERE id = $3`,
		string(outcome), nilIfEmpty(detail), id,
	)
	if err != nil {
		slog.Error("PostgresStore.UpdateAttemptOutcome failed", "error", err, "id", id)
		return fmt.Errorf("failed to update attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s not found", id)
	}
	return nil
}

// ListAttempts returns the most recent attempts for a user, newest first.
func (s *PostgresStore) ListAttempts(userID string, limit int) ([]models.PairingAttempt, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, claw_id, outcome, detail, started_at, ended_at FROM pairing_attempts WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.ListAttempts query failed", "error", err)
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
