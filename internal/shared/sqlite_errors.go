// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error. Both typically warrant a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// RetrySQLite runs fn, retrying up to attempts times with a short backoff
// when it fails with a SQLite concurrency error. Non-conflict errors are
// returned immediately.
func RetrySQLite(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}
