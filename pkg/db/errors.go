package db

import "strings"

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation. The (patron_id, license_pool_id) constraints on loans
// and holds surface here when two racing borrows collide; callers treat that
// collision as "row already exists" and re-read.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
