package notify

import (
	"context"
	"fmt"

	"github.com/mdollan-source/payg/types"
	"github.com/redis/go-redis/v9"
)

type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: Channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, jobType types.JobType) error {
	if err := n.rdb.Publish(ctx, n.channel, jobType.String()).Err(); err != nil {
		return fmt.Errorf("failed to publish job notification: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	sub := n.rdb.Subscribe(ctx, n.channel)
	// Receive blocks until the subscription is confirmed, so a Notify issued after
	// Subscribe returns is never missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}

	out := make(chan struct{}, 1)
	msgs := sub.Channel()
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
