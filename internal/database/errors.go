package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey means an insert collided with a unique constraint.
	ErrDuplicateKey = errors.New("duplicate key")
)

// PostgreSQL SQLSTATE codes we distinguish.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// classify wraps err with the sentinel matching its cause. Anything that is
// neither a missing row nor a unique violation is returned as a plain wrapped
// error and should be treated as transient by callers.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, ErrDuplicateKey, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: referenced row %w (%s)", op, ErrNotFound, pqErr.Constraint)
		}
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

// IsTransient reports whether err is a store failure other than ErrNotFound
// or ErrDuplicateKey.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDuplicateKey)
}
