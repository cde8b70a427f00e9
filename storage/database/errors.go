package database

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// Postgres error codes
const (
	codeUniqueViolation      = pq.ErrorCode("23505")
	codeSerializationFailure = pq.ErrorCode("40001")
	codeDeadlockDetected     = pq.ErrorCode("40P01")
	codeInvalidText          = pq.ErrorCode("22P02")
	classConnectionException = pq.ErrorClass("08")
)

// MapError classifies a driver error into the core taxonomy.
// sql.ErrNoRows becomes notFound when given, and so does a malformed id. Errors that cannot be classified are returned as is.
func MapError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	cause := errors.Cause(err)
	if cause == sql.ErrNoRows {
		if notFound != nil {
			return notFound
		}
		return err
	}

	if pqErr, ok := cause.(*pq.Error); ok {
		switch {
		case pqErr.Code == codeInvalidText && notFound != nil:
			return notFound
		case pqErr.Code == codeUniqueViolation:
			return &core.ConflictError{Code: "unique_violation", Err: err}
		case pqErr.Code == codeSerializationFailure,
			pqErr.Code == codeDeadlockDetected,
			pqErr.Code.Class() == classConnectionException:
			return core.NewTransientError(err, "")
		}
		return err
	}

	if cause == driver.ErrBadConn || cause == sql.ErrConnDone ||
		cause == context.DeadlineExceeded || cause == context.Canceled {
		return core.NewTransientError(err, "")
	}
	return err
}

// IsUniqueViolation reports whether err is a unique violation, optionally of the given constraint.
func IsUniqueViolation(err error, constraint ...string) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	if !ok || pqErr.Code != codeUniqueViolation {
		return false
	}
	if len(constraint) == 0 {
		return true
	}
	for _, c := range constraint {
		if pqErr.Constraint == c {
			return true
		}
	}
	return false
}
