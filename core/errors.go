package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a client-fixable error, optionally scoped to fields.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// StructuralError reports a malformed request, rejected before any store access.
type StructuralError struct {
	Err error
}

func NewStructuralError(err error) error {
	return &StructuralError{Err: err}
}

func (err StructuralError) Error() string { return err.Err.Error() }

// ConflictError reports a state that has already transitioned.
// Code is stable so that callers can branch without matching messages.
type ConflictError struct {
	Code string
	Err  error
}

func NewConflictError(code, msg string) error {
	return &ConflictError{Code: code, Err: errors.New(msg)}
}

func (err ConflictError) Error() string { return err.Err.Error() }

type NotFoundError struct {
	Err error
}

func NewNotFoundError(msg string) error {
	return &NotFoundError{Err: errors.New(msg)}
}

func (err NotFoundError) Error() string { return err.Err.Error() }

// TransientError wraps an I/O or storage failure. Retrying is safe: every commit path is idempotent.
type TransientError struct {
	Msg string
	Err error
}

func NewTransientError(err error, msg string) error {
	return &TransientError{Msg: msg, Err: err}
}

func (err TransientError) Error() string {
	if err.Err == nil {
		return err.Msg
	}
	if err.Msg == "" {
		return err.Err.Error()
	}
	return err.Msg + ": " + err.Err.Error()
}

func (err TransientError) Unwrap() error { return err.Err }

// IsNotFound reports whether the cause of err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// IsConflict reports whether the cause of err is a ConflictError, optionally with one of the given codes.
func IsConflict(err error, codes ...string) bool {
	cErr, ok := errors.Cause(err).(*ConflictError)
	if !ok {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if cErr.Code == code {
			return true
		}
	}
	return false
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
