// Package pgutils provides helpers for classifying PostgreSQL errors.
package pgutils

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23: integrity constraint violation
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"

	// Class 40: transaction rollback
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation (23505).
func IsUniqueViolation(err error) bool {
	return hasErrorCode(err, CodeUniqueViolation)
}

// IsForeignKeyViolation reports whether err is a foreign key violation (23503).
func IsForeignKeyViolation(err error) bool {
	return hasErrorCode(err, CodeForeignKeyViolation)
}

// IsNotNullViolation reports whether err is a not-null constraint violation (23502).
func IsNotNullViolation(err error) bool {
	return hasErrorCode(err, CodeNotNullViolation)
}

// IsCheckViolation reports whether err is a check constraint violation (23514).
func IsCheckViolation(err error) bool {
	return hasErrorCode(err, CodeCheckViolation)
}

// IsRetryableTxError reports whether err is a transient transaction failure
// (serialization failure or deadlock) that can be safely retried.
func IsRetryableTxError(err error) bool {
	return hasErrorCode(err, CodeSerializationFailure) || hasErrorCode(err, CodeDeadlockDetected)
}

// hasErrorCode checks the typed pgconn error first and falls back to scanning
// the message for wrapped errors that lost the concrete type.
func hasErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return strings.Contains(err.Error(), "SQLSTATE "+code)
}
