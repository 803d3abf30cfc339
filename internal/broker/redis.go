package broker

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBroker queues job IDs on a Redis list. Publish pushes to the head and
// Consume blocks popping from the tail, so jobs run in submission order.
type RedisBroker struct {
	client *redis.Client
	queue  string
}

// NewRedis connects to the Redis instance named by url and verifies it is
// reachable before returning.
func NewRedis(url, queue string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBroker{client: client, queue: queue}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, jobID string) error {
	return b.client.LPush(ctx, b.queue, jobID).Err()
}

func (b *RedisBroker) Consume(ctx context.Context) (string, error) {
	vals, err := b.client.BRPop(ctx, 0, b.queue).Result()
	if err != nil {
		return "", err
	}
	if len(vals) < 2 {
		return "", fmt.Errorf("unexpected BRPop response: %v", vals)
	}
	return vals[1], nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
