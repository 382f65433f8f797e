package taskqueue

import (
	"context"
	"fmt"
)

// Dispatcher routes jobs to the queue named in their envelope. The
// orchestrator holds a Dispatcher rather than three queue handles so queue
// selection stays in one place.
type Dispatcher struct {
	queues map[QueueName]Queue
}

// NewDispatcher creates a Dispatcher over the given queues.
func NewDispatcher(document, ai, action Queue) *Dispatcher {
	return &Dispatcher{
		queues: map[QueueName]Queue{
			QueueDocument: document,
			QueueAI:       ai,
			QueueAction:   action,
		},
	}
}

// Dispatch enqueues the job onto the queue its envelope names.
func (d *Dispatcher) Dispatch(ctx context.Context, j Job) error {
	q, ok := d.queues[j.Queue]
	if !ok {
		return fmt.Errorf("no queue registered for %q", j.Queue)
	}
	return q.Enqueue(ctx, j)
}

// Queue returns the queue registered under the given name, or nil.
func (d *Dispatcher) Queue(name QueueName) Queue {
	return d.queues[name]
}
