package broker

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once the broker is shut down.
var ErrClosed = errors.New("broker closed")

const memoryQueueDepth = 256

// MemoryBroker is a process-local broker for single-node deployments and
// tests. Publish never blocks until the buffer fills.
//
// The jobs channel is never closed; shutdown is signalled through done so a
// Publish racing Close can never send on a closed channel.
type MemoryBroker struct {
	mu     sync.Mutex
	jobs   chan string
	done   chan struct{}
	closed bool
}

func NewMemory() *MemoryBroker {
	return &MemoryBroker{
		jobs: make(chan string, memoryQueueDepth),
		done: make(chan struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, jobID string) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.jobs <- jobID:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context) (string, error) {
	// Drain anything already buffered before honoring shutdown.
	select {
	case jobID := <-b.jobs:
		return jobID, nil
	default:
	}
	select {
	case jobID := <-b.jobs:
		return jobID, nil
	case <-b.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
