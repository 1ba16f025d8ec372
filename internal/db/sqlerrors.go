package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrRetriesExceeded is returned when a transaction kept failing
	// with a busy or locked database.
	ErrRetriesExceeded = errors.New("db tx retries exceeded")
)

// MapSQLError translates sqlite3 errors into the typed errors of this
// package. Other errors are returned unchanged.
func MapSQLError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return parseSqliteError(sqliteErr)
	}

	return err
}

func parseSqliteError(sqliteErr sqlite3.Error) error {
	switch sqliteErr.Code {
	case sqlite3.ErrConstraint:
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {

			return &ErrSQLUniqueConstraintViolation{
				DBError: sqliteErr,
			}
		}

		return fmt.Errorf("sqlite constraint error: %w", sqliteErr)

	// Another connection holds the write lock.
	case sqlite3.ErrBusy:
		return &ErrSerializationError{DBError: sqliteErr}

	// A conflicting statement on the same connection.
	case sqlite3.ErrLocked:
		return &ErrDeadlockError{DBError: sqliteErr}

	case sqlite3.ErrError:
		if strings.Contains(sqliteErr.Error(), "no such table") {
			return &ErrSchemaError{DBError: sqliteErr}
		}

		return fmt.Errorf("sqlite error: %w", sqliteErr)

	default:
		return fmt.Errorf("sqlite error: %w", sqliteErr)
	}
}

// ErrSQLUniqueConstraintViolation reports a duplicate key.
type ErrSQLUniqueConstraintViolation struct {
	DBError error
}

// Error implements error.
func (e ErrSQLUniqueConstraintViolation) Error() string {
	return fmt.Sprintf("sql unique constraint violation: %v", e.DBError)
}

// Unwrap returns the driver error.
func (e ErrSQLUniqueConstraintViolation) Unwrap() error {
	return e.DBError
}

// ErrSerializationError reports that the database was busy.
type ErrSerializationError struct {
	DBError error
}

// Unwrap returns the driver error.
func (e ErrSerializationError) Unwrap() error {
	return e.DBError
}

// Error implements error.
func (e ErrSerializationError) Error() string {
	return e.DBError.Error()
}

// ErrDeadlockError reports a locked table.
type ErrDeadlockError struct {
	DBError error
}

// Unwrap returns the driver error.
func (e ErrDeadlockError) Unwrap() error {
	return e.DBError
}

// Error implements error.
func (e ErrDeadlockError) Error() string {
	return e.DBError.Error()
}

// IsSerializationOrDeadlockError reports whether err is worth retrying.
func IsSerializationOrDeadlockError(err error) bool {
	var (
		serializationErr *ErrSerializationError
		deadlockErr      *ErrDeadlockError
	)

	return errors.As(err, &serializationErr) ||
		errors.As(err, &deadlockErr)
}

// ErrSchemaError reports queries against a missing table, usually an
// unmigrated database.
type ErrSchemaError struct {
	DBError error
}

// Unwrap returns the driver error.
func (e ErrSchemaError) Unwrap() error {
	return e.DBError
}

// Error implements error.
func (e ErrSchemaError) Error() string {
	return e.DBError.Error()
}

// IsSchemaError reports whether err is an ErrSchemaError.
func IsSchemaError(err error) bool {
	var schemaError *ErrSchemaError
	return errors.As(err, &schemaError)
}
