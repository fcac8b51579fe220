package lock

import (
	"context"
	"errors"
	"fmt"
)

type DistributedLockManager interface {
	// Acquire blocks until the lock is held or ctx is done.
	Acquire(ctx context.Context, lockID int) error
	// TryAcquire takes the lock only if it is free.
	TryAcquire(ctx context.Context, lockID int) (bool, error)
	Release(ctx context.Context, lockID int) error
}

// WithTryLock runs fn only when lockID could be taken without waiting. ran reports whether fn was called.
func WithTryLock(ctx context.Context, mgr DistributedLockManager, lockID int, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := mgr.TryAcquire(ctx, lockID)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if relErr := mgr.Release(context.WithoutCancel(ctx), lockID); relErr != nil {
			err = errors.Join(err, fmt.Errorf("release lock %d: %w", lockID, relErr))
		}
	}()
	return true, fn(ctx)
}
