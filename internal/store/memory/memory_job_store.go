package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
)

// JobStore keeps jobs in process memory. A single mutex serializes every operation,
// which gives ClaimNext the same at-most-one-claimer guarantee the SQL store gets from row locks.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*entry
	keys map[string]string
	seq  int64
}

type entry struct {
	job types.Job
	seq int64
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*entry),
		keys: make(map[string]string),
	}
}

func (s *JobStore) Insert(_ context.Context, nj store.NewJob, now time.Time) (*types.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nj.IdempotencyKey != "" {
		if id, ok := s.keys[nj.IdempotencyKey]; ok {
			return copyJob(s.jobs[id].job), false, nil
		}
	}

	payload := nj.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	s.seq++
	job := types.Job{
		ID:        uuid.NewString(),
		TenantID:  nj.TenantID,
		JobType:   nj.JobType,
		Status:    state.StatusPending,
		Payload:   slices.Clone(payload),
		RunAt:     nj.RunAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if nj.IdempotencyKey != "" {
		key := nj.IdempotencyKey
		job.IdempotencyKey = &key
		s.keys[key] = job.ID
	}
	s.jobs[job.ID] = &entry{job: job, seq: s.seq}
	return copyJob(job), true, nil
}

func (s *JobStore) FindByID(_ context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	return copyJob(e.job), nil
}

func (s *JobStore) ClaimNext(_ context.Context, jobTypes []types.JobType, now time.Time) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *entry
	for _, e := range s.jobs {
		if e.job.Status != state.StatusPending || e.job.RunAt.After(now) {
			continue
		}
		if len(jobTypes) > 0 && !slices.Contains(jobTypes, e.job.JobType) {
			continue
		}
		if next == nil || older(e, next) {
			next = e
		}
	}
	if next == nil {
		return nil, nil
	}

	started := now
	next.job.Status = state.StatusRunning
	next.job.StartedAt = &started
	next.job.Attempts++
	next.job.UpdatedAt = now
	return copyJob(next.job), nil
}

func (s *JobStore) MarkCompleted(_ context.Context, id string, result []byte, now time.Time) (*types.Job, error) {
	return s.finish(id, func(j *types.Job) {
		completed := now
		j.Status = state.StatusCompleted
		j.CompletedAt = &completed
		j.Result = slices.Clone(result)
		j.UpdatedAt = now
	})
}

func (s *JobStore) Reschedule(_ context.Context, id string, errMsg string, runAt time.Time, now time.Time) (*types.Job, error) {
	return s.finish(id, func(j *types.Job) {
		msg := errMsg
		j.Status = state.StatusPending
		j.LastError = &msg
		j.RunAt = runAt
		j.UpdatedAt = now
	})
}

func (s *JobStore) MarkDead(_ context.Context, id string, errMsg string, now time.Time) (*types.Job, error) {
	return s.finish(id, func(j *types.Job) {
		msg := errMsg
		completed := now
		j.Status = state.StatusDead
		j.LastError = &msg
		j.CompletedAt = &completed
		j.UpdatedAt = now
	})
}

func (s *JobStore) Requeue(_ context.Context, id string, from []state.JobStatus, resetAttempts bool, now time.Time) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	if !slices.Contains(from, e.job.Status) {
		return nil, fmt.Errorf("job %s is %s: %w", id, e.job.Status, store.ErrStatusConflict)
	}

	e.job.Status = state.StatusPending
	e.job.RunAt = now
	e.job.UpdatedAt = now
	if resetAttempts {
		e.job.Attempts = 0
		e.job.LastError = nil
		e.job.StartedAt = nil
		e.job.CompletedAt = nil
	}
	return copyJob(e.job), nil
}

func (s *JobStore) RemoveByID(_ context.Context, id string, from []state.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	if !slices.Contains(from, e.job.Status) {
		return fmt.Errorf("job %s is %s: %w", id, e.job.Status, store.ErrStatusConflict)
	}
	s.remove(e)
	return nil
}

func (s *JobStore) CountAllJobsGroupedByStatus(_ context.Context) (map[state.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, st := range state.AllStatuses {
		result[st] = 0
	}
	for _, e := range s.jobs {
		result[e.job.Status]++
	}
	return result, nil
}

func (s *JobStore) List(_ context.Context, filter store.JobFilter) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*entry
	for _, e := range s.jobs {
		if filter.TenantID != "" && e.job.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && e.job.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && e.job.JobType != filter.JobType {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return older(matched[j], matched[i]) })
	return collect(matched, filter.Limit), nil
}

func (s *JobStore) ListDead(_ context.Context, tenantID string, limit int) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*entry
	for _, e := range s.jobs {
		if e.job.Status != state.StatusDead {
			continue
		}
		if tenantID != "" && e.job.TenantID != tenantID {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return completedAt(matched[i]).After(completedAt(matched[j]))
	})
	return collect(matched, limit), nil
}

func (s *JobStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.jobs {
		if e.job.Status == state.StatusCompleted && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			s.remove(e)
			n++
		}
	}
	return n, nil
}

func (s *JobStore) RecoverStale(_ context.Context, cutoff time.Time, maxAttempts int, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.jobs {
		if e.job.Status != state.StatusRunning || e.job.StartedAt == nil || !e.job.StartedAt.Before(cutoff) {
			continue
		}
		msg := "job lease expired"
		e.job.LastError = &msg
		e.job.RunAt = now
		e.job.UpdatedAt = now
		if e.job.Attempts >= maxAttempts {
			completed := now
			e.job.Status = state.StatusDead
			e.job.CompletedAt = &completed
		} else {
			e.job.Status = state.StatusPending
		}
		n++
	}
	return n, nil
}

func (s *JobStore) Close() error {
	return nil
}

// finish applies a terminal or retry transition to a running job.
func (s *JobStore) finish(id string, apply func(j *types.Job)) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	if e.job.Status != state.StatusRunning {
		return nil, fmt.Errorf("job %s is %s: %w", id, e.job.Status, store.ErrStatusConflict)
	}
	apply(&e.job)
	return copyJob(e.job), nil
}

// remove must be called with the mutex held.
func (s *JobStore) remove(e *entry) {
	if e.job.IdempotencyKey != nil {
		delete(s.keys, *e.job.IdempotencyKey)
	}
	delete(s.jobs, e.job.ID)
}

func older(a, b *entry) bool {
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	}
	return a.seq < b.seq
}

func completedAt(e *entry) time.Time {
	if e.job.CompletedAt == nil {
		return time.Time{}
	}
	return *e.job.CompletedAt
}

func collect(entries []*entry, limit int) []types.Job {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]types.Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, *copyJob(e.job))
	}
	return out
}

func copyJob(j types.Job) *types.Job {
	c := j
	c.Payload = slices.Clone(j.Payload)
	c.Result = slices.Clone(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.LastError != nil {
		msg := *j.LastError
		c.LastError = &msg
	}
	return &c
}
