package broker

import (
	"context"
	"fmt"

	"turntable/internal/config"
)

// Broker hands job IDs from the API surface to workflow workers. Delivery is
// at-least-once; the queue store's claim step makes duplicates harmless.
type Broker interface {
	Publish(ctx context.Context, jobID string) error
	Consume(ctx context.Context) (string, error)
	Close() error
}

// New constructs the broker named by the configuration.
func New(cfg *config.Config) (Broker, error) {
	switch cfg.Broker.Backend {
	case "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.Broker.RedisURL, cfg.Broker.Queue)
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}
