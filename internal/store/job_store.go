package store

import (
	"context"
	"errors"
	"time"

	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/types"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrStatusConflict = errors.New("job is not in a status that allows this action")
)

// NewJob carries the fields set at insert time.
type NewJob struct {
	TenantID       string
	JobType        types.JobType
	Payload        []byte
	RunAt          time.Time
	IdempotencyKey string
}

// JobFilter narrows list queries. Zero values mean no filter.
type JobFilter struct {
	TenantID string
	Status   state.JobStatus
	JobType  types.JobType
	Limit    int
}

// JobStore defines the persistence boundary for jobs.
type JobStore interface {
	// Insert adds a pending job with zero attempts. When IdempotencyKey is set and a job with the
	// same key exists, the existing job is returned and created is false.
	Insert(ctx context.Context, job NewJob, now time.Time) (saved *types.Job, created bool, err error)

	FindByID(ctx context.Context, id string) (*types.Job, error)

	// ClaimNext atomically moves the oldest due pending job to running, skipping rows locked by
	// other transactions. Returns nil, nil when nothing is due.
	ClaimNext(ctx context.Context, jobTypes []types.JobType, now time.Time) (*types.Job, error)

	// MarkCompleted, Reschedule and MarkDead only apply to running jobs. Any other status returns
	// ErrStatusConflict, so a worker whose job was reaped and re-claimed cannot overwrite the new run.

	// MarkCompleted stores the result and stamps completed_at.
	MarkCompleted(ctx context.Context, id string, result []byte, now time.Time) (*types.Job, error)

	// Reschedule puts a job back to pending with the error and a new run_at.
	Reschedule(ctx context.Context, id string, errMsg string, runAt time.Time, now time.Time) (*types.Job, error)

	// MarkDead dead-letters a job.
	MarkDead(ctx context.Context, id string, errMsg string, now time.Time) (*types.Job, error)

	// Requeue moves a job whose status is one of from back to pending and due now. With resetAttempts
	// the attempt counter, last error and timestamps are cleared as well. Returns ErrStatusConflict when
	// the job exists in another status.
	Requeue(ctx context.Context, id string, from []state.JobStatus, resetAttempts bool, now time.Time) (*types.Job, error)

	// RemoveByID deletes a job whose status is one of from.
	RemoveByID(ctx context.Context, id string, from []state.JobStatus) error

	CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, filter JobFilter) ([]types.Job, error)

	// ListDead returns dead jobs ordered by completed_at, most recent first.
	ListDead(ctx context.Context, tenantID string, limit int) ([]types.Job, error)

	// DeleteCompletedBefore removes completed jobs finished before cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RecoverStale returns running jobs started before cutoff to pending, or dead-letters them
	// once maxAttempts is reached.
	RecoverStale(ctx context.Context, cutoff time.Time, maxAttempts int, now time.Time) (int64, error)

	// Close closes the database
	Close() error
}
