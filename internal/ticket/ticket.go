// Package ticket provides ticket-key formatting and the conflict
// classification used when two writers race for the same key.
package ticket

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// DefaultAttempts is how many times a key allocation is tried in total
// before the conflict is treated as a hard error.
const DefaultAttempts = 3

// Key formats a human-readable ticket key from a board prefix and sequence
// number, e.g. "PROJ-42".
func Key(prefix string, seq int) string {
	return fmt.Sprintf("%s-%d", prefix, seq)
}

// IsConflict reports whether err is a uniqueness violation from the store,
// i.e. another writer claimed the same ticket key concurrently. Callers must
// use this predicate rather than matching error text.
func IsConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// WithRetry runs fn up to attempts times, retrying only while retryable
// classifies the failure as a conflict. Any other error, or exhausting the
// attempts, propagates the last error.
func WithRetry(attempts int, fn func() error, retryable func(error) bool) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}

	return err
}
