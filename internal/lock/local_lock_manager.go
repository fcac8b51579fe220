package lock

import (
	"context"
	"fmt"
	"sync"
)

// LocalLockManager coordinates goroutines of a single process. Used with the memory storage driver.
type LocalLockManager struct {
	mu    sync.Mutex
	locks map[int]chan struct{}
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{locks: make(map[int]chan struct{})}
}

func (l *LocalLockManager) Acquire(ctx context.Context, lockID int) error {
	select {
	case l.slot(lockID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire lock: %w", ctx.Err())
	}
}

func (l *LocalLockManager) TryAcquire(_ context.Context, lockID int) (bool, error) {
	select {
	case l.slot(lockID) <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (l *LocalLockManager) Release(_ context.Context, lockID int) error {
	select {
	case <-l.slot(lockID):
		return nil
	default:
		return fmt.Errorf("failed to release lock: lock %d is not held", lockID)
	}
}

func (l *LocalLockManager) slot(lockID int) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locks[lockID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[lockID] = ch
	}
	return ch
}
