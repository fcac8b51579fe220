package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/internal/constants"
	"github.com/mdollan-source/payg/internal/lock"
	"github.com/mdollan-source/payg/types/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs queue housekeeping off the hot path. Each task runs under an advisory try-lock,
// so with several worker processes only one of them does the work per tick.
type Scheduler struct {
	queue  *client.JobQueue
	locks  lock.DistributedLockManager
	cfg    config.MaintenanceConfig
	logger *zap.Logger
	cron   *cron.Cron
}

func NewScheduler(queue *client.JobQueue, locks lock.DistributedLockManager, cfg config.MaintenanceConfig, logger *zap.Logger) (*Scheduler, error) {
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = config.DefaultCleanupSchedule
	}
	if cfg.ReaperCheckInterval <= 0 {
		cfg.ReaperCheckInterval = time.Minute
	}
	if _, err := cron.ParseStandard(cfg.CleanupSchedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		queue:  queue,
		locks:  locks,
		cfg:    cfg,
		logger: logger.Named("maintenance"),
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

// Start registers the cleanup task and, when a stale threshold is configured, the reaper.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() { s.runTask(ctx, "cleanup", s.Cleanup) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	if s.cfg.StaleJobThreshold > 0 {
		spec := "@every " + s.cfg.ReaperCheckInterval.String()
		if _, err := s.cron.AddFunc(spec, func() { s.runTask(ctx, "reaper", s.RecoverStale) }); err != nil {
			return fmt.Errorf("failed to schedule reaper: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		zap.String("cleanup_schedule", s.cfg.CleanupSchedule),
		zap.Duration("job_retention", s.cfg.JobRetention),
		zap.Duration("stale_job_threshold", s.cfg.StaleJobThreshold))
	return nil
}

// Stop waits for a running task to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("maintenance stop: %w", ctx.Err())
	}
}

// Cleanup deletes completed jobs past retention. ran is false when another process holds the lock.
func (s *Scheduler) Cleanup(ctx context.Context) (n int64, ran bool, err error) {
	ran, err = lock.WithTryLock(ctx, s.locks, constants.CleanupLock, func(ctx context.Context) error {
		var cerr error
		n, cerr = s.queue.CleanupOldJobs(ctx, s.cfg.JobRetention)
		return cerr
	})
	return n, ran, err
}

// RecoverStale returns jobs stuck in running past the threshold to the queue.
func (s *Scheduler) RecoverStale(ctx context.Context) (n int64, ran bool, err error) {
	if s.cfg.StaleJobThreshold <= 0 {
		return 0, false, nil
	}
	ran, err = lock.WithTryLock(ctx, s.locks, constants.ReaperLock, func(ctx context.Context) error {
		var rerr error
		n, rerr = s.queue.RecoverStaleJobs(ctx, s.cfg.StaleJobThreshold)
		return rerr
	})
	return n, ran, err
}

func (s *Scheduler) runTask(ctx context.Context, name string, task func(context.Context) (int64, bool, error)) {
	if ctx.Err() != nil {
		return
	}
	n, ran, err := task(ctx)
	switch {
	case err != nil:
		s.logger.Error("maintenance task failed", zap.String("task", name), zap.Error(err))
	case !ran:
		s.logger.Debug("maintenance task skipped, lock held elsewhere", zap.String("task", name))
	case n > 0:
		s.logger.Info("maintenance task finished", zap.String("task", name), zap.Int64("affected", n))
	}
}
