package taskqueue

import (
	"context"
	"sync/atomic"
	"time"
)

// InMemoryQueue is a simple Queue implementation backed by a buffered channel.
// It is safe for concurrent use. Delayed jobs are held on a timer and pushed
// onto the channel when due, so they survive only as long as the process.
type InMemoryQueue struct {
	ch      chan Job
	delayed atomic.Int64
}

// NewInMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		ch: make(chan Job, capacity),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error {
	if delay := time.Until(j.NotBefore); delay > 0 {
		q.delayed.Add(1)
		time.AfterFunc(delay, func() {
			q.delayed.Add(-1)
			q.ch <- j
		})
		return nil
	}

	select {
	case q.ch <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case j := <-q.ch:
		return &j, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int {
	return len(q.ch) + int(q.delayed.Load())
}
