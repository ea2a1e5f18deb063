package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness or single-active constraint was hit,
	// for example a duplicate project name or a second running session.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates caller-supplied fields failed entity checks.
	ErrValidation = errors.New("validation failed")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// mapError converts driver errors into store sentinels, keeping the entity
// name in the message for callers and logs.
func mapError(entity string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, entity)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s (%s)", ErrConflict, entity, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			// A missing referenced row reads as not-found to the caller.
			return fmt.Errorf("%w: %s references a missing row (%s)", ErrNotFound, entity, pgErr.ConstraintName)
		case pgCheckViolation:
			return fmt.Errorf("%s: check constraint %s: %w", entity, pgErr.ConstraintName, err)
		}
	}
	return fmt.Errorf("%s: %w", entity, err)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
