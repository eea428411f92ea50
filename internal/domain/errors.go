package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth rejects a connection before any room is created
	ErrAuth = errors.New("authentication failed")
	// ErrPersistence wraps failures of the progression store
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound is returned by lookups that match nothing
	ErrNotFound = errors.New("not found")
	// ErrAlreadyReconciled is returned when a match result was already applied
	ErrAlreadyReconciled = errors.New("match result already reconciled")
)

// ValidationError is a malformed or out-of-place command. The command is
// dropped and the connection stays open.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid command: " + e.Reason
	}
	return fmt.Sprintf("invalid command: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
