package mocks

import (
	"context"
	"time"

	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
)

// MockJobStore is a mock implementation of store.JobStore for testing.
// Methods without a func field delegate to Fallback when it is set.
type MockJobStore struct {
	Fallback store.JobStore

	InsertFunc                      func(ctx context.Context, job store.NewJob, now time.Time) (*types.Job, bool, error)
	FindByIDFunc                    func(ctx context.Context, id string) (*types.Job, error)
	ClaimNextFunc                   func(ctx context.Context, jobTypes []types.JobType, now time.Time) (*types.Job, error)
	MarkCompletedFunc               func(ctx context.Context, id string, result []byte, now time.Time) (*types.Job, error)
	RescheduleFunc                  func(ctx context.Context, id string, errMsg string, runAt time.Time, now time.Time) (*types.Job, error)
	MarkDeadFunc                    func(ctx context.Context, id string, errMsg string, now time.Time) (*types.Job, error)
	RequeueFunc                     func(ctx context.Context, id string, from []state.JobStatus, resetAttempts bool, now time.Time) (*types.Job, error)
	RemoveByIDFunc                  func(ctx context.Context, id string, from []state.JobStatus) error
	CountAllJobsGroupedByStatusFunc func(ctx context.Context) (map[state.JobStatus]int, error)
	ListFunc                        func(ctx context.Context, filter store.JobFilter) ([]types.Job, error)
	ListDeadFunc                    func(ctx context.Context, tenantID string, limit int) ([]types.Job, error)
	DeleteCompletedBeforeFunc       func(ctx context.Context, cutoff time.Time) (int64, error)
	RecoverStaleFunc                func(ctx context.Context, cutoff time.Time, maxAttempts int, now time.Time) (int64, error)
	CloseFunc                       func() error
}

func (m *MockJobStore) Insert(ctx context.Context, job store.NewJob, now time.Time) (*types.Job, bool, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, job, now)
	}
	if m.Fallback != nil {
		return m.Fallback.Insert(ctx, job, now)
	}
	return nil, false, nil
}

func (m *MockJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	if m.Fallback != nil {
		return m.Fallback.FindByID(ctx, id)
	}
	return nil, nil
}

func (m *MockJobStore) ClaimNext(ctx context.Context, jobTypes []types.JobType, now time.Time) (*types.Job, error) {
	if m.ClaimNextFunc != nil {
		return m.ClaimNextFunc(ctx, jobTypes, now)
	}
	if m.Fallback != nil {
		return m.Fallback.ClaimNext(ctx, jobTypes, now)
	}
	return nil, nil
}

func (m *MockJobStore) MarkCompleted(ctx context.Context, id string, result []byte, now time.Time) (*types.Job, error) {
	if m.MarkCompletedFunc != nil {
		return m.MarkCompletedFunc(ctx, id, result, now)
	}
	if m.Fallback != nil {
		return m.Fallback.MarkCompleted(ctx, id, result, now)
	}
	return &types.Job{ID: id, Status: state.StatusCompleted}, nil
}

func (m *MockJobStore) Reschedule(ctx context.Context, id string, errMsg string, runAt time.Time, now time.Time) (*types.Job, error) {
	if m.RescheduleFunc != nil {
		return m.RescheduleFunc(ctx, id, errMsg, runAt, now)
	}
	if m.Fallback != nil {
		return m.Fallback.Reschedule(ctx, id, errMsg, runAt, now)
	}
	return &types.Job{ID: id, Status: state.StatusPending, RunAt: runAt}, nil
}

func (m *MockJobStore) MarkDead(ctx context.Context, id string, errMsg string, now time.Time) (*types.Job, error) {
	if m.MarkDeadFunc != nil {
		return m.MarkDeadFunc(ctx, id, errMsg, now)
	}
	if m.Fallback != nil {
		return m.Fallback.MarkDead(ctx, id, errMsg, now)
	}
	return &types.Job{ID: id, Status: state.StatusDead}, nil
}

func (m *MockJobStore) Requeue(ctx context.Context, id string, from []state.JobStatus, resetAttempts bool, now time.Time) (*types.Job, error) {
	if m.RequeueFunc != nil {
		return m.RequeueFunc(ctx, id, from, resetAttempts, now)
	}
	if m.Fallback != nil {
		return m.Fallback.Requeue(ctx, id, from, resetAttempts, now)
	}
	return &types.Job{ID: id, Status: state.StatusPending}, nil
}

func (m *MockJobStore) RemoveByID(ctx context.Context, id string, from []state.JobStatus) error {
	if m.RemoveByIDFunc != nil {
		return m.RemoveByIDFunc(ctx, id, from)
	}
	if m.Fallback != nil {
		return m.Fallback.RemoveByID(ctx, id, from)
	}
	return nil
}

func (m *MockJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	if m.CountAllJobsGroupedByStatusFunc != nil {
		return m.CountAllJobsGroupedByStatusFunc(ctx)
	}
	if m.Fallback != nil {
		return m.Fallback.CountAllJobsGroupedByStatus(ctx)
	}
	return map[state.JobStatus]int{}, nil
}

func (m *MockJobStore) List(ctx context.Context, filter store.JobFilter) ([]types.Job, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	if m.Fallback != nil {
		return m.Fallback.List(ctx, filter)
	}
	return nil, nil
}

func (m *MockJobStore) ListDead(ctx context.Context, tenantID string, limit int) ([]types.Job, error) {
	if m.ListDeadFunc != nil {
		return m.ListDeadFunc(ctx, tenantID, limit)
	}
	if m.Fallback != nil {
		return m.Fallback.ListDead(ctx, tenantID, limit)
	}
	return nil, nil
}

func (m *MockJobStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteCompletedBeforeFunc != nil {
		return m.DeleteCompletedBeforeFunc(ctx, cutoff)
	}
	if m.Fallback != nil {
		return m.Fallback.DeleteCompletedBefore(ctx, cutoff)
	}
	return 0, nil
}

func (m *MockJobStore) RecoverStale(ctx context.Context, cutoff time.Time, maxAttempts int, now time.Time) (int64, error) {
	if m.RecoverStaleFunc != nil {
		return m.RecoverStaleFunc(ctx, cutoff, maxAttempts, now)
	}
	if m.Fallback != nil {
		return m.Fallback.RecoverStale(ctx, cutoff, maxAttempts, now)
	}
	return 0, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
