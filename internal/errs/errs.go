// Package errs defines the domain error taxonomy shared by services and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the addressed entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a concurrent update changed the entity first.
	ErrConflict = errors.New("conflict")
	// ErrForbidden is returned when the caller lacks the role for an operation.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError is a recoverable domain error: illegal input or an illegal state transition.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid builds a ValidationError with a formatted message.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Forbidden wraps ErrForbidden with a reason.
func Forbidden(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrForbidden)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
