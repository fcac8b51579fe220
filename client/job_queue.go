package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/internal/constants"
	"github.com/mdollan-source/payg/internal/message_broaker"
	"github.com/mdollan-source/payg/internal/metrics"
	"github.com/mdollan-source/payg/internal/notify"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
	"go.uber.org/zap"
)

var (
	ErrInvalidJobType = errors.New("invalid job type")
	ErrInvalidPayload = errors.New("payload must be a JSON object")
	ErrNoHandler      = errors.New("no handler registered")
	ErrInvalidResult  = errors.New("job result is not valid JSON")
)

// JobQueue is the only way job state changes. The worker, handlers and the admin API all go through it.
type JobQueue struct {
	store       store.JobStore
	events      message_broaker.EventPublisher
	notifier    notify.Notifier
	metrics     *metrics.Collectors
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

type QueueOption func(*JobQueue)

func WithEventPublisher(p message_broaker.EventPublisher) QueueOption {
	return func(q *JobQueue) { q.events = p }
}

func WithNotifier(n notify.Notifier) QueueOption {
	return func(q *JobQueue) { q.notifier = n }
}

func WithQueueMetrics(m *metrics.Collectors) QueueOption {
	return func(q *JobQueue) { q.metrics = m }
}

func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *JobQueue) { q.logger = l }
}

// WithClock replaces time.Now. Every timestamp the queue writes comes from this clock.
func WithClock(now func() time.Time) QueueOption {
	return func(q *JobQueue) { q.now = now }
}

func NewJobQueue(jobStore store.JobStore, opts ...QueueOption) *JobQueue {
	q := &JobQueue{
		store:       jobStore,
		events:      message_broaker.NopPublisher{},
		notifier:    notify.Nop{},
		logger:      zap.NewNop(),
		now:         time.Now,
		maxAttempts: constants.MaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = metrics.NewNop()
	}
	return q
}

// Now returns the queue clock's current time.
func (q *JobQueue) Now() time.Time {
	return q.now()
}

type createOptions struct {
	runAt          *time.Time
	delay          time.Duration
	idempotencyKey string
}

type CreateOption func(*createOptions)

// RunAt schedules the job for t instead of now.
func RunAt(t time.Time) CreateOption {
	return func(o *createOptions) { o.runAt = &t }
}

func Delay(d time.Duration) CreateOption {
	return func(o *createOptions) { o.delay = d }
}

// IdempotencyKey makes a repeated create with the same key return the first job.
func IdempotencyKey(key string) CreateOption {
	return func(o *createOptions) { o.idempotencyKey = key }
}

// CreateJob inserts a pending job with zero attempts, due now unless RunAt or Delay say otherwise.
// payload may be nil, a JSON document as []byte or json.RawMessage, or any value that encodes to a JSON object.
func (q *JobQueue) CreateJob(ctx context.Context, tenantID string, jobType types.JobType, payload any, opts ...CreateOption) (*types.Job, error) {
	if !jobType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, jobType)
	}
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	body, err := encodePayload(tenantID, payload)
	if err != nil {
		return nil, err
	}

	now := q.now()
	runAt := now
	if o.runAt != nil {
		runAt = *o.runAt
	}
	if o.delay > 0 {
		runAt = runAt.Add(o.delay)
	}

	job, created, err := q.store.Insert(ctx, store.NewJob{
		TenantID:       tenantID,
		JobType:        jobType,
		Payload:        body,
		RunAt:          runAt,
		IdempotencyKey: o.idempotencyKey,
	}, now)
	if err != nil {
		return nil, err
	}
	if !created {
		q.logger.Debug("job already exists for idempotency key",
			zap.String("job_id", job.ID), zap.String("idempotency_key", o.idempotencyKey))
		return job, nil
	}

	q.metrics.JobsCreated.WithLabelValues(jobType.String()).Inc()
	q.publish(ctx, message_broaker.EventJobCreated, job)
	if !runAt.After(now) {
		if err := q.notifier.Notify(ctx, jobType); err != nil {
			q.logger.Warn("failed to notify workers", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return job, nil
}

// ClaimJob moves the oldest due pending job to running. A nil job with a nil error means the queue is empty.
func (q *JobQueue) ClaimJob(ctx context.Context, jobTypes []types.JobType) (*types.Job, error) {
	job, err := q.store.ClaimNext(ctx, jobTypes, q.now())
	if err != nil || job == nil {
		return nil, err
	}
	q.publish(ctx, message_broaker.EventJobClaimed, job)
	return job, nil
}

// CompleteJob marks a job completed and stores result. A result that cannot be encoded is dropped.
func (q *JobQueue) CompleteJob(ctx context.Context, id string, result any) (*types.Job, error) {
	body, err := encodeResult(result)
	if err != nil {
		q.logger.Warn("dropping job result that cannot be encoded", zap.String("job_id", id), zap.Error(err))
		body = nil
	}
	job, err := q.store.MarkCompleted(ctx, id, body, q.now())
	if err != nil {
		return nil, err
	}
	q.publish(ctx, message_broaker.EventJobCompleted, job)
	return job, nil
}

// FailJob records a failure. Once attemptsSoFar reaches the maximum the job is dead-lettered,
// otherwise it goes back to pending after the backoff for that attempt.
func (q *JobQueue) FailJob(ctx context.Context, id string, errMsg string, attemptsSoFar int) (*types.Job, error) {
	if attemptsSoFar >= q.maxAttempts {
		return q.DeadLetterJob(ctx, id, errMsg)
	}

	now := q.now()
	job, err := q.store.Reschedule(ctx, id, errMsg, now.Add(constants.BackoffFor(attemptsSoFar)), now)
	if err != nil {
		return nil, err
	}
	q.publish(ctx, message_broaker.EventJobRetryScheduled, job)
	return job, nil
}

// DeadLetterJob moves a job straight to dead regardless of attempts.
func (q *JobQueue) DeadLetterJob(ctx context.Context, id string, errMsg string) (*types.Job, error) {
	job, err := q.store.MarkDead(ctx, id, errMsg, q.now())
	if err != nil {
		return nil, err
	}
	q.publish(ctx, message_broaker.EventJobDead, job)
	return job, nil
}

// RetryDeadJob resets a dead or failed job to pending with zero attempts, due now.
func (q *JobQueue) RetryDeadJob(ctx context.Context, id string) (*types.Job, error) {
	job, err := q.store.Requeue(ctx, id, state.RetryableStatuses, true, q.now())
	if err != nil {
		return nil, err
	}
	q.publish(ctx, message_broaker.EventJobRetried, job)
	q.wake(ctx, job)
	return job, nil
}

// RequeueStuckJob returns a running job to pending without touching its attempt count.
// It is meant for jobs whose worker died.
func (q *JobQueue) RequeueStuckJob(ctx context.Context, id string) (*types.Job, error) {
	job, err := q.store.Requeue(ctx, id, []state.JobStatus{state.StatusRunning}, false, q.now())
	if err != nil {
		return nil, err
	}
	q.publish(ctx, message_broaker.EventJobRequeued, job)
	q.wake(ctx, job)
	return job, nil
}

// DeleteJob removes a completed or dead job.
func (q *JobQueue) DeleteJob(ctx context.Context, id string) error {
	if err := q.store.RemoveByID(ctx, id, state.DeletableStatuses); err != nil {
		return err
	}
	if err := q.events.PublishJobEvent(ctx, message_broaker.JobEvent{
		Type:       message_broaker.EventJobDeleted,
		JobID:      id,
		OccurredAt: q.now(),
	}); err != nil {
		q.logger.Warn("failed to publish job event", zap.String("job_id", id), zap.Error(err))
	}
	return nil
}

func (q *JobQueue) GetJob(ctx context.Context, id string) (*types.Job, error) {
	return q.store.FindByID(ctx, id)
}

// GetQueueStats counts jobs per status. Every status is present, zero when empty.
func (q *JobQueue) GetQueueStats(ctx context.Context) (types.QueueStats, error) {
	counts, err := q.store.CountAllJobsGroupedByStatus(ctx)
	if err != nil {
		return types.QueueStats{}, err
	}
	for _, st := range state.AllStatuses {
		q.metrics.QueueDepth.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
	return types.NewQueueStats(counts), nil
}

// JobListOptions filters GetJobsForTenant. Zero values mean no filter and the default limit.
type JobListOptions struct {
	Status  state.JobStatus
	JobType types.JobType
	Limit   int
}

// GetJobsForTenant lists a tenant's jobs, newest first.
func (q *JobQueue) GetJobsForTenant(ctx context.Context, tenantID string, opts JobListOptions) ([]types.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = constants.DefaultTenantJobsLimit
	}
	return q.store.List(ctx, store.JobFilter{
		TenantID: tenantID,
		Status:   opts.Status,
		JobType:  opts.JobType,
		Limit:    limit,
	})
}

// GetDeadJobs lists dead jobs, most recently dead first. An empty tenantID lists every tenant.
func (q *JobQueue) GetDeadJobs(ctx context.Context, tenantID string, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = constants.DefaultDeadJobsLimit
	}
	return q.store.ListDead(ctx, tenantID, limit)
}

// CleanupOldJobs deletes completed jobs that finished more than olderThan ago.
func (q *JobQueue) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = constants.DefaultJobRetention
	}
	return q.store.DeleteCompletedBefore(ctx, q.now().Add(-olderThan))
}

// RecoverStaleJobs returns jobs running for longer than threshold to pending,
// or dead-letters them when they have used every attempt.
func (q *JobQueue) RecoverStaleJobs(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		return 0, nil
	}
	now := q.now()
	n, err := q.store.RecoverStale(ctx, now.Add(-threshold), q.maxAttempts, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := q.notifier.Notify(ctx, ""); err != nil {
			q.logger.Warn("failed to notify workers", zap.Error(err))
		}
	}
	return n, nil
}

func (q *JobQueue) publish(ctx context.Context, t message_broaker.EventType, job *types.Job) {
	if err := q.events.PublishJobEvent(ctx, message_broaker.NewJobEvent(t, job, q.now())); err != nil {
		q.logger.Warn("failed to publish job event",
			zap.String("event", string(t)), zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *JobQueue) wake(ctx context.Context, job *types.Job) {
	if err := q.notifier.Notify(ctx, job.JobType); err != nil {
		q.logger.Warn("failed to notify workers", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// encodePayload turns payload into a JSON object and adds tenantId when it is missing.
func encodePayload(tenantID string, payload any) ([]byte, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		raw = []byte("{}")
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := sonic.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var fields map[string]json.RawMessage
	if err := sonic.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, ErrInvalidPayload
	}
	if tenantID == "" {
		return raw, nil
	}
	if _, ok := fields["tenantId"]; ok {
		return raw, nil
	}
	id, err := sonic.Marshal(tenantID)
	if err != nil {
		return nil, err
	}
	fields["tenantId"] = id
	return sonic.Marshal(fields)
}

func encodeResult(result any) ([]byte, error) {
	switch r := result.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return validJSON(r)
	case []byte:
		return validJSON(r)
	}
	return sonic.Marshal(result)
}

func validJSON(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if !sonic.Valid(b) {
		return nil, ErrInvalidResult
	}
	return b, nil
}
