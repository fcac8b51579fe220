// Package notify wakes idle workers when a job is created so they claim
// without waiting out the poll interval. Notifications are a latency hint only;
// workers still poll, so a lost message delays a job and never loses it.
package notify

import (
	"context"

	"github.com/mdollan-source/payg/types"
)

// Channel is the pub/sub channel name used by every implementation.
const Channel = "payg_jobs_created"

type Notifier interface {
	// Notify announces that a job of the given type is ready to claim.
	Notify(ctx context.Context, jobType types.JobType) error
	// Subscribe returns a channel that receives a value per wake-up. It is closed when ctx ends.
	Subscribe(ctx context.Context) (<-chan struct{}, error)
	Close() error
}

// Nop is used when no notifier is configured.
type Nop struct{}

func (Nop) Notify(context.Context, types.JobType) error { return nil }

func (Nop) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (Nop) Close() error { return nil }

// signal does a non-blocking send. One pending wake-up is enough for any number of notifications.
func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
