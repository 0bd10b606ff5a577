package core

import "github.com/pkg/errors"

// Error kinds, matched with errors.Is by the API error handler.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("permission denied")
	ErrConflict  = errors.New("conflict")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// NewNotFoundError returns a distinct sentinel that matches ErrNotFound.
func NewNotFoundError(msg string) error { return &kindError{kind: ErrNotFound, msg: msg} }

// NewForbiddenError returns a distinct sentinel that matches ErrForbidden.
func NewForbiddenError(msg string) error { return &kindError{kind: ErrForbidden, msg: msg} }

// NewConflictError returns a distinct sentinel that matches ErrConflict.
func NewConflictError(msg string) error { return &kindError{kind: ErrConflict, msg: msg} }

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func (err ValidationError) Unwrap() error { return err.Err }

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
