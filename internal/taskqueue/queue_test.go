package taskqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T, name QueueName) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db, name)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func runQueueTests(t *testing.T, newQueue func(t *testing.T, name QueueName) Queue) {
	t.Run("fifo round trip", func(t *testing.T) {
		ctx := context.Background()
		q := newQueue(t, QueueAI)

		for i, stepID := range []string{"step-1", "step-2"} {
			job := Job{
				ID:      stepID + "-job",
				Queue:   QueueAI,
				Attempt: 1,
				AI: &AIPayload{
					RunID:  "run-1",
					StepID: stepID,
					Prompt: "Summarize {{extractedText}}",
				},
				EnqueuedAt: time.Now(),
			}
			if err := q.Enqueue(ctx, job); err != nil {
				t.Fatalf("Enqueue %d failed: %v", i, err)
			}
		}

		if q.Len() != 2 {
			t.Fatalf("expected Len 2, got %d", q.Len())
		}

		first, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if first.AI == nil || first.AI.StepID != "step-1" {
			t.Fatalf("expected step-1 first, got %+v", first)
		}
		if first.Attempt != 1 {
			t.Fatalf("expected attempt 1, got %d", first.Attempt)
		}

		second, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if second.AI == nil || second.AI.StepID != "step-2" {
			t.Fatalf("expected step-2 second, got %+v", second)
		}
	})

	t.Run("delayed job held until due", func(t *testing.T) {
		ctx := context.Background()
		q := newQueue(t, QueueAction)

		delayed := Job{
			ID:      "delayed",
			Queue:   QueueAction,
			Attempt: 2,
			Action: &ActionPayload{
				RunID:      "run-1",
				StepID:     "step-1",
				ActionType: "webhook",
			},
			EnqueuedAt: time.Now(),
			NotBefore:  time.Now().Add(150 * time.Millisecond),
		}
		ready := Job{
			ID:      "ready",
			Queue:   QueueAction,
			Attempt: 1,
			Action: &ActionPayload{
				RunID:      "run-1",
				StepID:     "step-2",
				ActionType: "email",
			},
			EnqueuedAt: time.Now(),
		}

		if err := q.Enqueue(ctx, delayed); err != nil {
			t.Fatalf("Enqueue delayed failed: %v", err)
		}
		if err := q.Enqueue(ctx, ready); err != nil {
			t.Fatalf("Enqueue ready failed: %v", err)
		}

		// The ready job must come out first even though it was enqueued later.
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got.ID != "ready" {
			t.Fatalf("expected ready job first, got %q", got.ID)
		}

		start := time.Now()
		got, err = q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got.ID != "delayed" {
			t.Fatalf("expected delayed job, got %q", got.ID)
		}
		if got.Attempt != 2 {
			t.Fatalf("expected attempt 2 preserved, got %d", got.Attempt)
		}
		if waited := time.Since(start); waited < 100*time.Millisecond {
			t.Fatalf("delayed job delivered too early: waited only %v", waited)
		}
	})

	t.Run("dequeue respects cancellation", func(t *testing.T) {
		q := newQueue(t, QueueDocument)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		if _, err := q.Dequeue(ctx); err == nil {
			t.Fatal("expected context error from empty-queue Dequeue")
		}
	})
}

func TestInMemoryQueue(t *testing.T) {
	runQueueTests(t, func(t *testing.T, name QueueName) Queue {
		return NewInMemoryQueue(16)
	})
}

func TestSQLiteQueue(t *testing.T) {
	runQueueTests(t, func(t *testing.T, name QueueName) Queue {
		return newTestSQLiteQueue(t, name)
	})
}

func TestSQLiteQueueIsolatesQueues(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	aiQueue, err := NewSQLiteQueue(db, QueueAI)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	actionQueue, err := NewSQLiteQueue(db, QueueAction)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}

	job := Job{
		ID:         "ai-job",
		Queue:      QueueAI,
		Attempt:    1,
		AI:         &AIPayload{RunID: "run-1", StepID: "step-1"},
		EnqueuedAt: time.Now(),
	}
	if err := aiQueue.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if actionQueue.Len() != 0 {
		t.Fatalf("action queue sees ai jobs: Len %d", actionQueue.Len())
	}
	if aiQueue.Len() != 1 {
		t.Fatalf("expected ai queue Len 1, got %d", aiQueue.Len())
	}
}

func TestDispatcherRoutes(t *testing.T) {
	ctx := context.Background()

	document := NewInMemoryQueue(4)
	ai := NewInMemoryQueue(4)
	action := NewInMemoryQueue(4)
	d := NewDispatcher(document, ai, action)

	jobs := []Job{
		{ID: "d", Queue: QueueDocument, Attempt: 1, Document: &DocumentPayload{RunID: "run-1"}},
		{ID: "a", Queue: QueueAI, Attempt: 1, AI: &AIPayload{RunID: "run-1"}},
		{ID: "x", Queue: QueueAction, Attempt: 1, Action: &ActionPayload{RunID: "run-1"}},
	}
	for _, j := range jobs {
		if err := d.Dispatch(ctx, j); err != nil {
			t.Fatalf("Dispatch %q failed: %v", j.ID, err)
		}
	}

	if document.Len() != 1 || ai.Len() != 1 || action.Len() != 1 {
		t.Fatalf("jobs not routed: document=%d ai=%d action=%d", document.Len(), ai.Len(), action.Len())
	}

	if err := d.Dispatch(ctx, Job{ID: "bad", Queue: "unknown"}); err == nil {
		t.Fatal("expected error for unknown queue")
	}
}
