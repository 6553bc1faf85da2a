package jobstore

import (
	"errors"
	"fmt"

	"docbatch/internal/services"
)

var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = fmt.Errorf("job %w", services.ErrNotFound)
	// ErrInvalidTransition is returned when a status change violates the job state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStaleDispatch is returned when an acknowledgement belongs to a
	// dispatch generation that has since been replaced.
	ErrStaleDispatch = errors.New("stale dispatch generation")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// InvalidTransition builds an ErrInvalidTransition error for a rejected status change.
func InvalidTransition(id string, from, to Status) error {
	return fmt.Errorf("%w: job %s cannot move from %s to %s", ErrInvalidTransition, id, from, to)
}
