package store

import (
	"database/sql"
	"fmt"

	"github.com/yourclaw/clawlink/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanAttempts scans all PairingAttempt rows from a query result.
func scanAttempts(rows *sql.Rows) ([]models.PairingAttempt, error) {
	var attempts []models.PairingAttempt
	for rows.Next() {
		var a models.PairingAttempt
		var detail sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.UserID, &a.ClawID, &a.Outcome, &detail, &a.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan attempt failed: %w", err)
		}
		a.Detail = detail.String
		if endedAt.Valid {
			t := endedAt.Time
			a.EndedAt = &t
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempt rows: %w", err)
	}
	return attempts, nil
}
