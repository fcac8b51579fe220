package test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/client/test/mocks"
	"github.com/mdollan-source/payg/custom_errors"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/internal/store/memory"
	"github.com/mdollan-source/payg/types"
	"github.com/mdollan-source/payg/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func fastWorkerConfig(concurrency int) config.WorkerConfig {
	return config.WorkerConfig{
		PollInterval: 10 * time.Millisecond,
		BusyInterval: time.Millisecond,
		Concurrency:  concurrency,
	}
}

func startWorker(t *testing.T, q *client.JobQueue, handlers *config.JobHandler, cfg config.WorkerConfig, opts ...client.WorkerOption) *client.Worker {
	t.Helper()
	w := client.NewWorker(q, handlers, cfg, opts...)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func jobStatus(t *testing.T, q *client.JobQueue, id string) *types.Job {
	t.Helper()
	job, err := q.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestWorker_CompletesJobs(t *testing.T) {
	ctx := context.Background()
	q := client.NewJobQueue(memory.NewJobStore())
	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobVerifyDNS, func(ctx context.Context, job *types.Job) (any, error) {
		return map[string]bool{"verified": true}, nil
	}, config.HandlerOptions{}))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobVerifyDNS, nil)
	require.NoError(t, err)

	startWorker(t, q, handlers, fastWorkerConfig(1))

	require.Eventually(t, func() bool {
		return jobStatus(t, q, job.ID).Status == state.StatusCompleted
	}, waitFor, tick)
	assert.JSONEq(t, `{"verified":true}`, string(jobStatus(t, q, job.ID).Result))
}

func TestWorker_RespectsConcurrency(t *testing.T) {
	ctx := context.Background()
	q := client.NewJobQueue(memory.NewJobStore())
	release := make(chan struct{})
	var peak, current atomic.Int32

	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobSendEmail, func(ctx context.Context, job *types.Job) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return nil, nil
	}, config.HandlerOptions{}))

	for i := 0; i < 5; i++ {
		_, err := q.CreateJob(ctx, "tenant-1", types.JobSendEmail, nil)
		require.NoError(t, err)
	}

	w := startWorker(t, q, handlers, fastWorkerConfig(2))

	require.Eventually(t, func() bool { return w.InFlight() == 2 }, waitFor, tick)
	// give the loop time to over-claim if it were going to
	time.Sleep(50 * time.Millisecond)

	stats, err := q.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 3, stats.Pending)

	close(release)
	require.Eventually(t, func() bool {
		stats, err := q.GetQueueStats(ctx)
		return err == nil && stats.Completed == 5
	}, waitFor, tick)
	assert.Equal(t, int32(2), peak.Load())
}

func TestWorker_StopWaitsForInFlightJobs(t *testing.T) {
	ctx := context.Background()
	q := client.NewJobQueue(memory.NewJobStore())
	started := make(chan struct{})
	release := make(chan struct{})

	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobProvisionSSL, func(ctx context.Context, job *types.Job) (any, error) {
		close(started)
		<-release
		return "issued", nil
	}, config.HandlerOptions{}))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobProvisionSSL, nil)
	require.NoError(t, err)

	w := client.NewWorker(q, handlers, fastWorkerConfig(1))
	require.NoError(t, w.Start(ctx))

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("handler never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, state.StatusRunning, jobStatus(t, q, job.ID).Status)

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop did not return after the handler finished")
	}

	assert.Equal(t, state.StatusCompleted, jobStatus(t, q, job.ID).Status)
	assert.False(t, w.Running())
	assert.Zero(t, w.InFlight())
}

func TestWorker_StopTimesOut(t *testing.T) {
	ctx := context.Background()
	q := client.NewJobQueue(memory.NewJobStore())
	release := make(chan struct{})
	defer close(release)

	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobSendEmail, func(ctx context.Context, job *types.Job) (any, error) {
		<-release
		return nil, nil
	}, config.HandlerOptions{}))
	_, err := q.CreateJob(ctx, "tenant-1", types.JobSendEmail, nil)
	require.NoError(t, err)

	w := client.NewWorker(q, handlers, fastWorkerConfig(1))
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return w.InFlight() == 1 }, waitFor, tick)

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(stopCtx), context.DeadlineExceeded)
}

func TestWorker_StartTwice(t *testing.T) {
	q := client.NewJobQueue(memory.NewJobStore())
	w := startWorker(t, q, config.NewJobHandler(), fastWorkerConfig(1))

	assert.ErrorIs(t, w.Start(context.Background()), client.ErrWorkerRunning)
}

func TestWorker_MissingHandlerEventuallyDeadLetters(t *testing.T) {
	ctx := context.Background()
	clock := mocks.NewClock(epoch)
	q := client.NewJobQueue(memory.NewJobStore(), client.WithClock(clock.Now))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobSendEmail, nil)
	require.NoError(t, err)

	startWorker(t, q, config.NewJobHandler(), fastWorkerConfig(1))

	require.Eventually(t, func() bool {
		current := jobStatus(t, q, job.ID)
		if current.Status == state.StatusPending && current.Attempts > 0 {
			clock.Advance(time.Hour)
		}
		return current.Status == state.StatusDead
	}, waitFor, tick)

	dead := jobStatus(t, q, job.ID)
	assert.Equal(t, 4, dead.Attempts)
	require.NotNil(t, dead.LastError)
	assert.Contains(t, *dead.LastError, "no handler registered")
}

func TestWorker_PermanentErrorDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	q := client.NewJobQueue(memory.NewJobStore())
	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobSendEmail, func(ctx context.Context, job *types.Job) (any, error) {
		return nil, custom_errors.Permanent(errors.New("unknown email template: invoice"))
	}, config.HandlerOptions{}))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobSendEmail, nil)
	require.NoError(t, err)

	startWorker(t, q, handlers, fastWorkerConfig(1))

	require.Eventually(t, func() bool {
		return jobStatus(t, q, job.ID).Status == state.StatusDead
	}, waitFor, tick)
	dead := jobStatus(t, q, job.ID)
	assert.Equal(t, 1, dead.Attempts)
	assert.Equal(t, "unknown email template: invoice", *dead.LastError)
}

func TestWorker_HandlerErrorSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	clock := mocks.NewClock(epoch)
	q := client.NewJobQueue(memory.NewJobStore(), client.WithClock(clock.Now))
	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobVerifyDNS, func(ctx context.Context, job *types.Job) (any, error) {
		return nil, errors.New("lookup timed out")
	}, config.HandlerOptions{}))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobVerifyDNS, nil)
	require.NoError(t, err)

	startWorker(t, q, handlers, fastWorkerConfig(1))

	require.Eventually(t, func() bool {
		current := jobStatus(t, q, job.ID)
		return current.Status == state.StatusPending && current.LastError != nil
	}, waitFor, tick)

	retrying := jobStatus(t, q, job.ID)
	assert.Equal(t, 1, retrying.Attempts)
	assert.Equal(t, epoch.Add(30*time.Second), retrying.RunAt)
	assert.Equal(t, "lookup timed out", *retrying.LastError)
}

func TestWorker_CompleteErrorSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	clock := mocks.NewClock(epoch)
	jobStore := &mocks.MockJobStore{
		Fallback: memory.NewJobStore(),
		MarkCompletedFunc: func(ctx context.Context, id string, result []byte, now time.Time) (*types.Job, error) {
			return nil, errors.New("connection reset")
		},
	}
	q := client.NewJobQueue(jobStore, client.WithClock(clock.Now))
	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobVerifyDNS, func(ctx context.Context, job *types.Job) (any, error) {
		return map[string]bool{"verified": true}, nil
	}, config.HandlerOptions{}))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobVerifyDNS, nil)
	require.NoError(t, err)

	w := startWorker(t, q, handlers, fastWorkerConfig(1))

	require.Eventually(t, func() bool {
		return jobStatus(t, q, job.ID).LastError != nil
	}, waitFor, tick)

	stopCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))

	after := jobStatus(t, q, job.ID)
	assert.NotEqual(t, state.StatusRunning, after.Status)
	assert.Equal(t, state.StatusPending, after.Status)
	assert.Equal(t, 1, after.Attempts)
	assert.Equal(t, epoch.Add(30*time.Second), after.RunAt)
	assert.Contains(t, *after.LastError, "connection reset")
}

func TestWorker_PanicBecomesFailure(t *testing.T) {
	ctx := context.Background()
	clock := mocks.NewClock(epoch)
	q := client.NewJobQueue(memory.NewJobStore(), client.WithClock(clock.Now))
	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobImportSeed, func(ctx context.Context, job *types.Job) (any, error) {
		panic("kaboom")
	}, config.HandlerOptions{}))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobImportSeed, nil)
	require.NoError(t, err)

	w := startWorker(t, q, handlers, fastWorkerConfig(1))

	require.Eventually(t, func() bool {
		return jobStatus(t, q, job.ID).LastError != nil
	}, waitFor, tick)

	failed := jobStatus(t, q, job.ID)
	assert.Equal(t, state.StatusPending, failed.Status)
	assert.Equal(t, "handler panic: kaboom", *failed.LastError)
	assert.True(t, w.Running())
}

func TestWorker_SurvivesClaimErrors(t *testing.T) {
	ctx := context.Background()
	var claims atomic.Int32
	jobStore := &mocks.MockJobStore{Fallback: memory.NewJobStore()}
	jobStore.ClaimNextFunc = func(ctx context.Context, jobTypes []types.JobType, now time.Time) (*types.Job, error) {
		if claims.Add(1) <= 3 {
			return nil, errors.New("connection reset by peer")
		}
		return jobStore.Fallback.ClaimNext(ctx, jobTypes, now)
	}
	q := client.NewJobQueue(jobStore)

	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobVerifyDNS, func(ctx context.Context, job *types.Job) (any, error) {
		return nil, nil
	}, config.HandlerOptions{}))

	job, err := q.CreateJob(ctx, "tenant-1", types.JobVerifyDNS, nil)
	require.NoError(t, err)

	startWorker(t, q, handlers, fastWorkerConfig(1))

	require.Eventually(t, func() bool {
		return jobStatus(t, q, job.ID).Status == state.StatusCompleted
	}, waitFor, tick)
	assert.Greater(t, claims.Load(), int32(3))
}

func TestWorker_OnlyClaimsConfiguredTypes(t *testing.T) {
	ctx := context.Background()
	q := client.NewJobQueue(memory.NewJobStore())
	handlers := config.NewJobHandler()
	noop := func(ctx context.Context, job *types.Job) (any, error) { return nil, nil }
	require.NoError(t, handlers.Register(types.JobVerifyDNS, noop, config.HandlerOptions{}))
	require.NoError(t, handlers.Register(types.JobSendEmail, noop, config.HandlerOptions{}))

	dns, err := q.CreateJob(ctx, "tenant-1", types.JobVerifyDNS, nil)
	require.NoError(t, err)
	email, err := q.CreateJob(ctx, "tenant-1", types.JobSendEmail, nil)
	require.NoError(t, err)

	cfg := fastWorkerConfig(1)
	cfg.JobTypes = []types.JobType{types.JobVerifyDNS}
	startWorker(t, q, handlers, cfg)

	require.Eventually(t, func() bool {
		return jobStatus(t, q, dns.ID).Status == state.StatusCompleted
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, state.StatusPending, jobStatus(t, q, email.ID).Status)
}

func TestWorker_WakeChannelInterruptsIdlePoll(t *testing.T) {
	ctx := context.Background()
	var claims atomic.Int32
	jobStore := &mocks.MockJobStore{Fallback: memory.NewJobStore()}
	jobStore.ClaimNextFunc = func(ctx context.Context, jobTypes []types.JobType, now time.Time) (*types.Job, error) {
		claims.Add(1)
		return jobStore.Fallback.ClaimNext(ctx, jobTypes, now)
	}
	q := client.NewJobQueue(jobStore)

	handlers := config.NewJobHandler()
	require.NoError(t, handlers.Register(types.JobSendEmail, func(ctx context.Context, job *types.Job) (any, error) {
		return nil, nil
	}, config.HandlerOptions{}))

	wake := make(chan struct{}, 1)
	cfg := fastWorkerConfig(1)
	cfg.PollInterval = time.Hour
	startWorker(t, q, handlers, cfg, client.WithWakeChannel(wake))

	// first poll finds nothing and the loop goes to sleep for an hour
	require.Eventually(t, func() bool { return claims.Load() >= 1 }, waitFor, tick)

	job, err := q.CreateJob(ctx, "tenant-1", types.JobSendEmail, nil)
	require.NoError(t, err)
	wake <- struct{}{}

	require.Eventually(t, func() bool {
		return jobStatus(t, q, job.ID).Status == state.StatusCompleted
	}, waitFor, tick)
}
