package progression

import (
	"errors"
	"fmt"

	"github.com/questline/progression/internal/domain/store"
)

var (
	// ErrNotFound covers both a missing quest log and one owned by someone
	// else, so callers cannot probe for foreign ids.
	ErrNotFound         = fmt.Errorf("quest log: %w", store.ErrNotFound)
	ErrAlreadyCompleted = errors.New("quest log already completed")
	ErrValidation       = errors.New("validation failed")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError wraps a store failure on the critical path.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
