package message_broaker

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/types"
)

type EventType string

const (
	EventJobCreated        EventType = "job.created"
	EventJobClaimed        EventType = "job.claimed"
	EventJobCompleted      EventType = "job.completed"
	EventJobRetryScheduled EventType = "job.retry_scheduled"
	EventJobDead           EventType = "job.dead"
	EventJobRetried        EventType = "job.retried"
	EventJobRequeued       EventType = "job.requeued"
	EventJobDeleted        EventType = "job.deleted"
)

// JobEvent is published on every job state change.
type JobEvent struct {
	Type       EventType  `json:"type"`
	JobID      string     `json:"job_id"`
	TenantID   string     `json:"tenant_id,omitempty"`
	JobType    string     `json:"job_type"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	RunAt      *time.Time `json:"run_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	Instance   string     `json:"instance,omitempty"`
}

// NewJobEvent snapshots job into an event of the given type.
func NewJobEvent(t EventType, job *types.Job, at time.Time) JobEvent {
	ev := JobEvent{
		Type:       t,
		JobID:      job.ID,
		TenantID:   job.TenantID,
		JobType:    job.JobType.String(),
		Status:     job.Status.String(),
		Attempts:   job.Attempts,
		OccurredAt: at,
	}
	if job.LastError != nil {
		ev.Error = *job.LastError
	}
	if t == EventJobRetryScheduled {
		runAt := job.RunAt
		ev.RunAt = &runAt
	}
	return ev
}

type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev JobEvent) error
}

// BrokerPublisher encodes events as JSON and publishes them with the event type as routing key.
type BrokerPublisher struct {
	broker   MessageBroker
	instance string
}

func NewBrokerPublisher(broker MessageBroker, instance string) *BrokerPublisher {
	return &BrokerPublisher{broker: broker, instance: instance}
}

func (p *BrokerPublisher) PublishJobEvent(ctx context.Context, ev JobEvent) error {
	if ev.Instance == "" {
		ev.Instance = p.instance
	}
	body, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	if err := p.broker.Publish(ctx, string(ev.Type), body); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	return nil
}

type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(context.Context, JobEvent) error { return nil }
