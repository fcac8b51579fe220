package client

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdollan-source/payg/custom_errors"
	"github.com/mdollan-source/payg/internal/logging"
	"github.com/mdollan-source/payg/internal/metrics"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
	"github.com/mdollan-source/payg/types/config"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var ErrWorkerRunning = errors.New("worker is already running")

// Worker claims jobs and runs their handlers with bounded concurrency.
// Any number of workers may share one store; the claim query keeps them from running the same job.
type Worker struct {
	queue    *JobQueue
	handlers *config.JobHandler
	cfg      config.WorkerConfig
	logger   *zap.Logger
	metrics  *metrics.Collectors
	wake     <-chan struct{}

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inFlight atomic.Int64
	running  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type WorkerOption func(*Worker)

func WithWorkerLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

func WithWorkerMetrics(m *metrics.Collectors) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithWakeChannel cuts an idle poll short whenever a value arrives on ch.
func WithWakeChannel(ch <-chan struct{}) WorkerOption {
	return func(w *Worker) { w.wake = ch }
}

func NewWorker(queue *JobQueue, handlers *config.JobHandler, cfg config.WorkerConfig, opts ...WorkerOption) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.BusyInterval <= 0 {
		cfg.BusyInterval = config.DefaultBusyInterval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = config.DefaultConcurrency
	}

	w := &Worker{
		queue:    queue,
		handlers: handlers,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewNop()
	}
	if !cfg.Verbose {
		w.logger = logging.Quiet(w.logger)
	}
	w.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	return w
}

// InFlight returns the number of handlers currently running.
func (w *Worker) InFlight() int {
	return int(w.inFlight.Load())
}

func (w *Worker) Running() bool {
	return w.running.Load()
}

// Start runs the loop in the background until Stop is called or ctx ends.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return ErrWorkerRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = w.Run(loopCtx)
	}(w.done)
	return nil
}

// Stop ends claiming and blocks until every in-flight handler has finished and its job is resolved.
// ctx bounds the wait only; handlers are never cancelled.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	w.logger.Info("worker stopping", zap.Int("in_flight", w.InFlight()))
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("worker stop: %w", ctx.Err())
	}

	w.mu.Lock()
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	return nil
}

// Run polls until ctx ends, then waits for in-flight handlers before returning.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer w.running.Store(false)

	w.logger.Info("worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("busy_interval", w.cfg.BusyInterval),
		zap.Any("job_types", w.cfg.JobTypes))

	for ctx.Err() == nil {
		if !w.sem.TryAcquire(1) {
			w.sleep(ctx, w.cfg.BusyInterval, false)
			continue
		}

		// a claim that committed must reach a handler, so it is not tied to ctx
		job, err := w.queue.ClaimJob(context.WithoutCancel(ctx), w.cfg.JobTypes)
		if err != nil {
			w.sem.Release(1)
			w.metrics.ClaimErrors.Inc()
			w.logger.Error("failed to claim job", zap.Error(err))
			w.sleep(ctx, w.cfg.PollInterval, false)
			continue
		}
		if job == nil {
			w.sem.Release(1)
			w.sleep(ctx, w.cfg.PollInterval, true)
			continue
		}

		w.inFlight.Add(1)
		w.metrics.JobsInFlight.Inc()
		w.wg.Add(1)
		go w.process(context.WithoutCancel(ctx), job)

		w.sleep(ctx, w.cfg.BusyInterval, false)
	}

	w.wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration, wakeable bool) {
	t := time.NewTimer(d)
	defer t.Stop()

	var wake <-chan struct{}
	if wakeable {
		wake = w.wake
	}
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-wake:
	}
}

func (w *Worker) process(ctx context.Context, job *types.Job) {
	defer func() {
		w.inFlight.Add(-1)
		w.metrics.JobsInFlight.Dec()
		w.sem.Release(1)
		w.wg.Done()
	}()

	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", job.JobType.String()),
		zap.String("tenant_id", job.TenantID),
		zap.Int("attempts", job.Attempts))
	log.Info("processing job")

	handler, ok := w.handlers.Lookup(job.JobType)
	if !ok {
		err := fmt.Errorf("%w for job type: %s", ErrNoHandler, job.JobType)
		log.Error("no handler registered", zap.Error(err))
		w.fail(ctx, log, job, err)
		return
	}

	start := time.Now()
	result, err := invoke(ctx, handler, job)
	w.metrics.JobDuration.WithLabelValues(job.JobType.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		var p *panicError
		if errors.As(err, &p) {
			log.Error("handler panicked", zap.Any("panic", p.value), zap.ByteString("stack", p.stack))
		}
		w.fail(ctx, log, job, err)
		return
	}

	if _, err := w.queue.CompleteJob(ctx, job.ID, result); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			log.Warn("job was reclaimed before it completed", zap.Error(err))
			return
		}
		log.Error("failed to complete job", zap.Error(err))
		w.fail(ctx, log, job, fmt.Errorf("failed to complete job: %w", err))
		return
	}
	w.metrics.JobsProcessed.WithLabelValues(job.JobType.String(), metrics.OutcomeCompleted).Inc()
	log.Info("completed job", zap.Duration("duration", time.Since(start)))
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, job *types.Job, cause error) {
	var (
		updated *types.Job
		err     error
	)
	if custom_errors.IsPermanent(cause) {
		updated, err = w.queue.DeadLetterJob(ctx, job.ID, cause.Error())
	} else {
		updated, err = w.queue.FailJob(ctx, job.ID, cause.Error(), job.Attempts)
	}
	if err != nil {
		log.Error("failed to record job failure", zap.NamedError("cause", cause), zap.Error(err))
		return
	}

	if updated.Status == state.StatusDead {
		w.metrics.JobsProcessed.WithLabelValues(job.JobType.String(), metrics.OutcomeDead).Inc()
		log.Warn("job moved to dead letter queue", zap.Error(cause))
		return
	}
	w.metrics.JobsProcessed.WithLabelValues(job.JobType.String(), metrics.OutcomeRetried).Inc()
	log.Warn("job failed, retry scheduled", zap.Error(cause), zap.Time("run_at", updated.RunAt))
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", p.value)
}

// invoke runs handler and turns a panic into an error.
func invoke(ctx context.Context, handler types.HandlerFunc, job *types.Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return handler(ctx, job)
}
