package message_broaker

import "context"

type MessageBroker interface {
	// Publish sends message to the exchange under routingKey.
	Publish(ctx context.Context, routingKey string, message []byte) error
	// Consume streams message bodies from queue until ctx ends.
	Consume(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}
