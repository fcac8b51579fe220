package message_broaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventBindingKey binds a consumer queue to every job lifecycle event.
const EventBindingKey = "job.#"

type RabbitMQ struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	exchange    string
	contentType string
	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
}

// NewRabbitMQ dials the broker and declares a durable topic exchange.
func NewRabbitMQ(url, exchange, contentType string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	if contentType == "" {
		contentType = "application/json"
	}
	return &RabbitMQ{
		conn:        conn,
		channel:     ch,
		exchange:    exchange,
		contentType: contentType,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, message []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.channel.PublishWithContext(ctx,
		r.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  r.contentType,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         message,
		},
	)
}

// Consume declares queue, binds it to every job event and streams message bodies.
func (r *RabbitMQ) Consume(ctx context.Context, queue string) (<-chan []byte, error) {
	r.mu.Lock()
	if _, err := r.channel.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := r.channel.QueueBind(queue, EventBindingKey, r.exchange, false, nil); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	msgs, err := r.channel.Consume(
		queue,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 1000)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Body:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}
