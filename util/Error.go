package util

import (
	"strings"
)

// IsDuplicateKeyError checks if the error is a database constraint violation
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// This string check works for Postgres "SQLSTATE 23505" and the sqlite
	// driver used in tests
	return strings.Contains(err.Error(), "duplicate key value") ||
		strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
