package pipeline

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

var (
	// ErrValidation marks malformed input rejected before a job exists.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown job id or a missing artifact.
	ErrNotFound = errors.New("not found")
	// ErrNotReady marks a result or artifact requested before the job completed.
	ErrNotReady = errors.New("job not completed yet")
)

// StageError records which stage of a job run failed.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
