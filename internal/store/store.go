// Package store provides storage backends for the pairing-attempt log.
//
// It includes an in-memory store plus SQLite and PostgreSQL backends. The
// attempt log is operational history only; it is never consulted for
// authorization decisions, and pairing sessions themselves remain ephemeral.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yourclaw/clawlink/internal/models"
)

// Store records pairing attempts and their outcomes.
type Store interface {
	// AddAttempt records a newly started attempt.
	AddAttempt(a models.PairingAttempt) error
	// UpdateAttemptOutcome records how an attempt ended.
	UpdateAttemptOutcome(id string, outcome models.AttemptOutcome, detail string) error
	// ListAttempts returns the most recent attempts for a user, newest first.
	ListAttempts(userID string, limit int) ([]models.PairingAttempt, error)
	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for persistent store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" or "sqlite" based on the DSN shape.
// Postgres DSNs use a URL scheme or key=value form; everything else is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// DefaultListLimit bounds ListAttempts when the caller passes limit <= 0.
const DefaultListLimit = 50

// InMemoryStore keeps attempts in memory. Used in tests and when no DSN is
// configured (attempt logging effectively disabled across restarts).
type InMemoryStore struct {
	mu       sync.Mutex
	attempts []models.PairingAttempt
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AddAttempt records a newly started attempt.
func (s *InMemoryStore) AddAttempt(a models.PairingAttempt) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

// UpdateAttemptOutcome records how an attempt ended.
func (s *InMemoryStore) UpdateAttemptOutcome(id string, outcome models.AttemptOutcome, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attempts {
		if s.attempts[i].ID == id {
			now := time.Now().UTC()
			s.attempts[i].Outcome = outcome
			s.attempts[i].Detail = detail
			s.attempts[i].EndedAt = &now
			return nil
		}
	}
	return fmt.Errorf("attempt %s not found", id)
}

// ListAttempts returns the most recent attempts for a user, newest first.
func (s *InMemoryStore) ListAttempts(userID string, limit int) ([]models.PairingAttempt, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PairingAttempt
	for i := len(s.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if s.attempts[i].UserID == userID {
			out = append(out, s.attempts[i])
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
