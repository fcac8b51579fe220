package test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/client/test/mocks"
	"github.com/mdollan-source/payg/internal/message_broaker"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/internal/store/memory"
	"github.com/mdollan-source/payg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type queueFixture struct {
	queue    *client.JobQueue
	store    *memory.JobStore
	clock    *mocks.Clock
	events   *mocks.RecordingPublisher
	notifier *mocks.RecordingNotifier
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	f := &queueFixture{
		store:    memory.NewJobStore(),
		clock:    mocks.NewClock(epoch),
		events:   &mocks.RecordingPublisher{},
		notifier: &mocks.RecordingNotifier{},
	}
	f.queue = client.NewJobQueue(f.store,
		client.WithClock(f.clock.Now),
		client.WithEventPublisher(f.events),
		client.WithNotifier(f.notifier),
	)
	return f
}

func TestJobQueue_CreateJob(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "tenant-1", types.JobSendEmail, map[string]any{"template": "welcome"})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, epoch, job.RunAt)
	assert.Equal(t, "tenant-1", job.TenantID)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "welcome", payload["template"])
	assert.Equal(t, "tenant-1", payload["tenantId"])

	assert.Equal(t, []message_broaker.EventType{message_broaker.EventJobCreated}, f.events.Types())
	assert.Equal(t, []types.JobType{types.JobSendEmail}, f.notifier.Notified())
}

func TestJobQueue_CreateJob_KeepsExplicitTenantID(t *testing.T) {
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(context.Background(), "tenant-1", types.JobVerifyDNS,
		json.RawMessage(`{"tenantId":"other","domainId":"d1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"tenantId":"other","domainId":"d1"}`, string(job.Payload))
}

func TestJobQueue_CreateJob_NilPayload(t *testing.T) {
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(context.Background(), "", types.JobSendEmail, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(job.Payload))
}

func TestJobQueue_CreateJob_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	_, err := f.queue.CreateJob(ctx, "tenant-1", "rebuild_everything", nil)
	assert.ErrorIs(t, err, client.ErrInvalidJobType)

	_, err = f.queue.CreateJob(ctx, "tenant-1", types.JobSendEmail, []byte(`[1,2,3]`))
	assert.ErrorIs(t, err, client.ErrInvalidPayload)

	_, err = f.queue.CreateJob(ctx, "tenant-1", types.JobSendEmail, []byte(`null`))
	assert.ErrorIs(t, err, client.ErrInvalidPayload)

	stats, err := f.queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
	assert.Empty(t, f.events.Types())
}

func TestJobQueue_CreateJob_Scheduling(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	later := epoch.Add(time.Hour)
	job, err := f.queue.CreateJob(ctx, "tenant-1", types.JobProvisionSSL, nil, client.RunAt(later))
	require.NoError(t, err)
	assert.Equal(t, later, job.RunAt)

	job, err = f.queue.CreateJob(ctx, "tenant-1", types.JobProvisionSSL, nil, client.Delay(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(5*time.Minute), job.RunAt)

	// future jobs do not wake workers
	assert.Empty(t, f.notifier.Notified())

	claimed, err := f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	f.clock.Advance(5 * time.Minute)
	claimed, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestJobQueue_CreateJob_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	first, err := f.queue.CreateJob(ctx, "tenant-1", types.JobAIGenerateSeed, nil, client.IdempotencyKey("ai_generate_seed:job-1"))
	require.NoError(t, err)
	second, err := f.queue.CreateJob(ctx, "tenant-1", types.JobAIGenerateSeed, nil, client.IdempotencyKey("ai_generate_seed:job-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.events.Types(), 1)

	stats, err := f.queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestJobQueue_ClaimJob_FiltersTypesAndOrder(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	email, err := f.queue.CreateJob(ctx, "t", types.JobSendEmail, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	dns, err := f.queue.CreateJob(ctx, "t", types.JobVerifyDNS, nil)
	require.NoError(t, err)

	claimed, err := f.queue.ClaimJob(ctx, []types.JobType{types.JobVerifyDNS})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, dns.ID, claimed.ID)
	assert.Equal(t, state.StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.StartedAt)

	claimed, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, email.ID, claimed.ID)

	claimed, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestJobQueue_CompleteJob(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "t", types.JobVerifyDNS, nil)
	require.NoError(t, err)
	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	done, err := f.queue.CompleteJob(ctx, job.ID, map[string]bool{"verified": true})
	require.NoError(t, err)

	assert.Equal(t, state.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, epoch.Add(2*time.Second), *done.CompletedAt)
	assert.JSONEq(t, `{"verified":true}`, string(done.Result))
}

func TestJobQueue_CompleteJob_DropsUnencodableResult(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "t", types.JobVerifyDNS, nil)
	require.NoError(t, err)
	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)

	done, err := f.queue.CompleteJob(ctx, job.ID, func() {})
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, done.Status)
	assert.Empty(t, done.Result)
}

func TestJobQueue_CompleteJob_RawResults(t *testing.T) {
	cases := map[string]struct {
		result any
		want   string
	}{
		"raw message":       {result: json.RawMessage(`{"pages":3}`), want: `{"pages":3}`},
		"bytes":             {result: []byte(`["a","b"]`), want: `["a","b"]`},
		"invalid raw":       {result: json.RawMessage(`{"pages":`)},
		"invalid bytes":     {result: []byte("plain text")},
		"empty raw message": {result: json.RawMessage{}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newQueueFixture(t)

			job, err := f.queue.CreateJob(ctx, "t", types.JobVerifyDNS, nil)
			require.NoError(t, err)
			_, err = f.queue.ClaimJob(ctx, nil)
			require.NoError(t, err)

			done, err := f.queue.CompleteJob(ctx, job.ID, tc.result)
			require.NoError(t, err)
			assert.Equal(t, state.StatusCompleted, done.Status)
			if tc.want == "" {
				assert.Empty(t, done.Result)
				return
			}
			assert.JSONEq(t, tc.want, string(done.Result))
		})
	}
}

func TestJobQueue_FailJob_BackoffSchedule(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "t", types.JobAIGenerateSpec, nil)
	require.NoError(t, err)

	expected := []time.Duration{30 * time.Second, 2 * time.Minute, 8 * time.Minute}
	for i, delay := range expected {
		claimed, err := f.queue.ClaimJob(ctx, nil)
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", i+1)
		assert.Equal(t, i+1, claimed.Attempts)

		failed, err := f.queue.FailJob(ctx, job.ID, "model overloaded", claimed.Attempts)
		require.NoError(t, err)
		assert.Equal(t, state.StatusPending, failed.Status)
		assert.Equal(t, f.clock.Now().Add(delay), failed.RunAt)
		require.NotNil(t, failed.LastError)
		assert.Equal(t, "model overloaded", *failed.LastError)

		// not claimable before the backoff elapses
		early, err := f.queue.ClaimJob(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, early)

		f.clock.Advance(delay)
	}

	claimed, err := f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 4, claimed.Attempts)

	dead, err := f.queue.FailJob(ctx, job.ID, "still overloaded", claimed.Attempts)
	require.NoError(t, err)
	assert.Equal(t, state.StatusDead, dead.Status)
	require.NotNil(t, dead.CompletedAt)
	assert.Equal(t, "still overloaded", *dead.LastError)

	evs := f.events.Types()
	assert.Equal(t, message_broaker.EventJobDead, evs[len(evs)-1])
}

func TestJobQueue_FailJob_UnknownJob(t *testing.T) {
	f := newQueueFixture(t)
	_, err := f.queue.FailJob(context.Background(), "missing", "boom", 1)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestJobQueue_RetryDeadJob(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "t", types.JobImportSeed, nil)
	require.NoError(t, err)
	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	_, err = f.queue.DeadLetterJob(ctx, job.ID, "bad seed")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	retried, err := f.queue.RetryDeadJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, state.StatusPending, retried.Status)
	assert.Equal(t, 0, retried.Attempts)
	assert.Nil(t, retried.LastError)
	assert.Nil(t, retried.StartedAt)
	assert.Nil(t, retried.CompletedAt)
	assert.Equal(t, f.clock.Now(), retried.RunAt)
	assert.Contains(t, f.events.Types(), message_broaker.EventJobRetried)

	// a pending job cannot be retried
	_, err = f.queue.RetryDeadJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
}

func TestJobQueue_RequeueStuckJob(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "t", types.JobVerifyDNS, nil)
	require.NoError(t, err)

	_, err = f.queue.RequeueStuckJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)

	requeued, err := f.queue.RequeueStuckJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.Attempts)
}

func TestJobQueue_DeleteJob(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "t", types.JobSendEmail, nil)
	require.NoError(t, err)

	err = f.queue.DeleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	_, err = f.queue.CompleteJob(ctx, job.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.queue.DeleteJob(ctx, job.ID))
	_, err = f.queue.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.Contains(t, f.events.Types(), message_broaker.EventJobDeleted)
}

func TestJobQueue_GetQueueStats(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	stats, err := f.queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStats{}, stats)

	for i := 0; i < 3; i++ {
		_, err := f.queue.CreateJob(ctx, "t", types.JobSendEmail, nil)
		require.NoError(t, err)
	}
	claimed, err := f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	_, err = f.queue.DeadLetterJob(ctx, claimed.ID, "nope")
	require.NoError(t, err)
	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)

	stats, err = f.queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStats{Pending: 1, Running: 1, Dead: 1}, stats)
}

func TestJobQueue_GetQueueStats_StoreError(t *testing.T) {
	jobStore := &mocks.MockJobStore{
		CountAllJobsGroupedByStatusFunc: func(ctx context.Context) (map[state.JobStatus]int, error) {
			return nil, errors.New("connection refused")
		},
	}
	q := client.NewJobQueue(jobStore)

	_, err := q.GetQueueStats(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestJobQueue_GetJobsForTenant(t *testing.T) {
	ctx := context.Background()
	jobStore := &mocks.MockJobStore{Fallback: memory.NewJobStore()}
	var seen store.JobFilter
	jobStore.ListFunc = func(ctx context.Context, filter store.JobFilter) ([]types.Job, error) {
		seen = filter
		return jobStore.Fallback.List(ctx, filter)
	}
	clock := mocks.NewClock(epoch)
	q := client.NewJobQueue(jobStore, client.WithClock(clock.Now))

	first, err := q.CreateJob(ctx, "tenant-1", types.JobSendEmail, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := q.CreateJob(ctx, "tenant-1", types.JobVerifyDNS, nil)
	require.NoError(t, err)
	_, err = q.CreateJob(ctx, "tenant-2", types.JobSendEmail, nil)
	require.NoError(t, err)

	jobs, err := q.GetJobsForTenant(ctx, "tenant-1", client.JobListOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
	assert.Equal(t, 50, seen.Limit)

	jobs, err = q.GetJobsForTenant(ctx, "tenant-1", client.JobListOptions{JobType: types.JobSendEmail, Limit: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, 10, seen.Limit)
}

func TestJobQueue_GetDeadJobs(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	var ids []string
	for _, tenant := range []string{"tenant-1", "tenant-2"} {
		job, err := f.queue.CreateJob(ctx, tenant, types.JobSendEmail, nil)
		require.NoError(t, err)
		_, err = f.queue.ClaimJob(ctx, nil)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		_, err = f.queue.DeadLetterJob(ctx, job.ID, "smtp rejected")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	dead, err := f.queue.GetDeadJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.Equal(t, ids[1], dead[0].ID)

	dead, err = f.queue.GetDeadJobs(ctx, "tenant-1", 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, ids[0], dead[0].ID)
}

func TestJobQueue_CleanupOldJobs(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	old, err := f.queue.CreateJob(ctx, "t", types.JobSendEmail, nil)
	require.NoError(t, err)
	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	_, err = f.queue.CompleteJob(ctx, old.ID, nil)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	recent, err := f.queue.CreateJob(ctx, "t", types.JobSendEmail, nil)
	require.NoError(t, err)
	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)
	_, err = f.queue.CompleteJob(ctx, recent.ID, nil)
	require.NoError(t, err)

	n, err := f.queue.CleanupOldJobs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.queue.GetJob(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, err = f.queue.GetJob(ctx, recent.ID)
	assert.NoError(t, err)
}

func TestJobQueue_RecoverStaleJobs(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	job, err := f.queue.CreateJob(ctx, "t", types.JobAIGenerateSeed, nil)
	require.NoError(t, err)
	_, err = f.queue.ClaimJob(ctx, nil)
	require.NoError(t, err)

	n, err := f.queue.RecoverStaleJobs(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(5 * time.Minute)
	n, err = f.queue.RecoverStaleJobs(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(10 * time.Minute)
	n, err = f.queue.RecoverStaleJobs(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recovered, err := f.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, recovered.Status)
	assert.Equal(t, 1, recovered.Attempts)
	assert.Equal(t, f.clock.Now(), recovered.RunAt)
}

func TestJobQueue_PublishesThroughBroker(t *testing.T) {
	ctx := context.Background()
	var keys []string
	var bodies [][]byte
	broker := &mocks.MockMessageBroker{
		PublishFunc: func(_ context.Context, routingKey string, message []byte) error {
			keys = append(keys, routingKey)
			bodies = append(bodies, message)
			return nil
		},
	}
	q := client.NewJobQueue(memory.NewJobStore(),
		client.WithClock(mocks.NewClock(epoch).Now),
		client.WithEventPublisher(message_broaker.NewBrokerPublisher(broker, "worker-1")),
	)

	job, err := q.CreateJob(ctx, "tenant-1", types.JobVerifyDNS, map[string]any{"domainId": "d1"})
	require.NoError(t, err)

	require.Equal(t, []string{string(message_broaker.EventJobCreated)}, keys)
	var ev message_broaker.JobEvent
	require.NoError(t, json.Unmarshal(bodies[0], &ev))
	assert.Equal(t, job.ID, ev.JobID)
	assert.Equal(t, "worker-1", ev.Instance)
	assert.Equal(t, "verify_dns", ev.JobType)
}

func TestJobQueue_BrokerFailureDoesNotFailCreate(t *testing.T) {
	broker := &mocks.MockMessageBroker{
		PublishFunc: func(context.Context, string, []byte) error { return errors.New("broker down") },
	}
	q := client.NewJobQueue(memory.NewJobStore(),
		client.WithEventPublisher(message_broaker.NewBrokerPublisher(broker, "worker-1")),
	)

	job, err := q.CreateJob(context.Background(), "tenant-1", types.JobSendEmail, nil)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.Status)
}
