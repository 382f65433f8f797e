// Package taskqueue provides the durable job queues that decouple run
// orchestration from step execution. Jobs are routed to one of three named
// queues by step kind, each with its own concurrency and retry settings.
package taskqueue

import (
	"context"
	"time"
)

// QueueName identifies one of the job queues.
type QueueName string

const (
	// QueueDocument carries document text-extraction jobs.
	QueueDocument QueueName = "document-processing"
	// QueueAI carries AI completion jobs.
	QueueAI QueueName = "ai-processing"
	// QueueAction carries side-effect jobs (email, webhook, save_data, ...).
	QueueAction QueueName = "action-execution"
)

// DocumentPayload asks a worker to extract text from a file and merge the
// result into the run's input before the first step is queued.
type DocumentPayload struct {
	RunID    string `json:"runId"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
}

// AIPayload asks a worker to run one AI completion for a step.
// Prompt still contains {{placeholder}} tokens; the worker substitutes run
// data at execution time so retries see fresh values.
type AIPayload struct {
	RunID  string         `json:"runId"`
	StepID string         `json:"stepId"`
	Prompt string         `json:"prompt"`
	Schema map[string]any `json:"schema,omitempty"`
	Model  string         `json:"model,omitempty"`
}

// ActionPayload asks a worker to perform a side-effecting step.
type ActionPayload struct {
	RunID      string         `json:"runId"`
	StepID     string         `json:"stepId"`
	ActionType string         `json:"actionType"`
	Config     map[string]any `json:"config,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Job is the envelope stored in a queue. Exactly one of the payload
// pointers is set, matching Queue's name.
type Job struct {
	ID    string    `json:"id"`
	Queue QueueName `json:"queue"`

	// Attempt counts delivery attempts, starting at 1 for the first.
	Attempt int `json:"attempt"`

	Document *DocumentPayload `json:"document,omitempty"`
	AI       *AIPayload       `json:"ai,omitempty"`
	Action   *ActionPayload   `json:"action,omitempty"`

	EnqueuedAt time.Time `json:"enqueuedAt"`

	// NotBefore is the earliest time this job should be eligible for
	// processing. Zero value means "immediately". Retries use it to apply
	// backoff without a separate scheduler.
	NotBefore time.Time `json:"notBefore,omitempty"`
}

// Queue is a simple async job queue interface.
type Queue interface {
	// Enqueue adds a job to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, j Job) error

	// Dequeue removes and returns the next eligible job, blocking until one
	// is available or the context is cancelled. Jobs with a future NotBefore
	// are held back until due.
	Dequeue(ctx context.Context) (*Job, error)

	// Len returns the approximate number of jobs queued, including delayed ones.
	Len() int
}

// Settings holds per-queue worker behavior.
type Settings struct {
	// Concurrency is the number of worker goroutines draining the queue.
	Concurrency int

	// MaxAttempts is the total delivery attempts per job, first included.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; each further retry
	// doubles it.
	InitialBackoff time.Duration

	// RatePerSecond throttles job starts across all workers of the queue.
	// Zero means unthrottled.
	RatePerSecond int
}

// DefaultSettings returns the standard settings for a queue.
//
// Document extraction retries quickly with few attempts; AI calls back off
// harder and are throttled to stay under provider rate limits; actions get
// the most attempts since remote endpoints are flaky.
func DefaultSettings(name QueueName) Settings {
	switch name {
	case QueueDocument:
		return Settings{Concurrency: 3, MaxAttempts: 3, InitialBackoff: time.Second}
	case QueueAI:
		return Settings{Concurrency: 5, MaxAttempts: 3, InitialBackoff: 2 * time.Second, RatePerSecond: 10}
	case QueueAction:
		return Settings{Concurrency: 10, MaxAttempts: 5, InitialBackoff: time.Second}
	default:
		return Settings{Concurrency: 1, MaxAttempts: 1, InitialBackoff: time.Second}
	}
}
