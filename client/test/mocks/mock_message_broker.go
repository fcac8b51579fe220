package mocks

import (
	"context"
	"sync"

	"github.com/mdollan-source/payg/internal/message_broaker"
	"github.com/mdollan-source/payg/types"
)

// MockMessageBroker is a mock implementation of message_broaker.MessageBroker for testing.
type MockMessageBroker struct {
	PublishFunc func(ctx context.Context, routingKey string, message []byte) error
	ConsumeFunc func(ctx context.Context, queue string) (<-chan []byte, error)
	CloseFunc   func() error
}

func (m *MockMessageBroker) Publish(ctx context.Context, routingKey string, message []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, routingKey, message)
	}
	return nil
}

func (m *MockMessageBroker) Consume(ctx context.Context, queue string) (<-chan []byte, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, queue)
	}
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *MockMessageBroker) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// RecordingPublisher keeps every published job event.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []message_broaker.JobEvent
	Err    error
}

func (p *RecordingPublisher) PublishJobEvent(_ context.Context, ev message_broaker.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.Err
}

func (p *RecordingPublisher) Types() []message_broaker.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]message_broaker.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// RecordingNotifier counts notifications.
type RecordingNotifier struct {
	mu       sync.Mutex
	jobTypes []types.JobType
}

func (n *RecordingNotifier) Notify(_ context.Context, jobType types.JobType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobTypes = append(n.jobTypes, jobType)
	return nil
}

func (n *RecordingNotifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (n *RecordingNotifier) Close() error { return nil }

func (n *RecordingNotifier) Notified() []types.JobType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.JobType(nil), n.jobTypes...)
}
