// Package jobs persists generation job records. All backends share the same
// transition rules so a job's history is identical whichever store holds it.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a write would break the job lifecycle.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// DefaultListLimit caps List when the filter names no limit.
const DefaultListLimit = 100

// Store is the job persistence interface. Implementations must be safe for
// concurrent use and must return copies that callers may mutate freely.
type Store interface {
	// Put inserts a new queued job or replaces an existing one, enforcing
	// the lifecycle rules against the stored record.
	Put(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// List returns jobs newest first.
	List(ctx context.Context, filter ListFilter) ([]*models.Job, error)
	Ping(ctx context.Context) error
}

// ListFilter narrows List. A zero Status matches every job.
type ListFilter struct {
	Status models.JobStatus
	Limit  int
}

// MaxResults is the effective limit, capped at DefaultListLimit.
func (f ListFilter) MaxResults() int {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return f.Limit
}

func (f ListFilter) matches(j *models.Job) bool {
	return f.Status == "" || j.Status == f.Status
}

// CheckTransition validates writing next over prev (nil when the job is new).
func CheckTransition(prev, next *models.Job) error {
	if next == nil || next.ID == uuid.Nil {
		return fmt.Errorf("%w: job has no id", ErrInvalidTransition)
	}
	if !next.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next.Status)
	}
	if err := checkShape(next); err != nil {
		return err
	}
	if prev == nil {
		if next.Status != models.JobStatusQueued {
			return fmt.Errorf("%w: new job must be queued, got %s", ErrInvalidTransition, next.Status)
		}
		return nil
	}
	if !prev.Status.CanTransition(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if prev.Status == models.JobStatusProcessing && next.Status == models.JobStatusProcessing && next.Progress < prev.Progress {
		return fmt.Errorf("%w: progress went backwards (%d -> %d)", ErrInvalidTransition, prev.Progress, next.Progress)
	}
	return nil
}

// checkShape enforces the per-status invariants on a single record.
func checkShape(j *models.Job) error {
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, j.Progress)
	}
	switch j.Status {
	case models.JobStatusCompleted:
		if j.Result == nil || j.Error != nil || j.Progress != 100 {
			return fmt.Errorf("%w: completed job needs a result, no error and progress 100", ErrInvalidTransition)
		}
	case models.JobStatusFailed:
		if j.Error == nil || j.Result != nil {
			return fmt.Errorf("%w: failed job needs an error and no result", ErrInvalidTransition)
		}
	default:
		if j.Result != nil || j.Error != nil {
			return fmt.Errorf("%w: %s job cannot carry a result or error", ErrInvalidTransition, j.Status)
		}
	}
	return nil
}
