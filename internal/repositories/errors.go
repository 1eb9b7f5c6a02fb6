package repositories

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrDuplicateMessage reports that a message with the same
// (connection, provider message ID) dedup key already exists. Callers treat
// it as success: both ingress channels may deliver the same provider event.
var ErrDuplicateMessage = errors.New("duplicate message")

// isUniqueViolation detects a unique-constraint conflict from Postgres
// (lib/pq 23505), SQLite (test databases) or GORM's translated error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
