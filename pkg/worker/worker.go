package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/autoflow/autoflow/internal/taskqueue"
	"github.com/autoflow/autoflow/pkg/api"
)

// Executor performs one job pulled from a queue. Implementations report step
// results to the orchestrator themselves; the returned error only steers the
// pool's retry decision.
type Executor interface {
	Execute(ctx context.Context, job *taskqueue.Job) error
}

// Pool drains one queue with a fixed number of goroutines, applying the
// queue's retry policy: failed jobs are re-enqueued with exponential backoff
// until their attempts are exhausted. Quota rejections and validation errors
// are never retried.
type Pool struct {
	queue    taskqueue.Queue
	executor Executor
	settings taskqueue.Settings
	logger   zerolog.Logger
	limiter  *rate.Limiter

	// OnExhausted is called when a job's final attempt has failed, or its
	// failure was unrecoverable. Optional.
	OnExhausted func(ctx context.Context, job *taskqueue.Job, err error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a Pool over the given queue and executor.
func NewPool(queue taskqueue.Queue, executor Executor, settings taskqueue.Settings, logger zerolog.Logger) *Pool {
	var limiter *rate.Limiter
	if settings.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(settings.RatePerSecond), settings.RatePerSecond)
	}
	return &Pool{
		queue:    queue,
		executor: executor,
		settings: settings,
		logger:   logger,
		limiter:  limiter,
	}
}

// Start launches the worker goroutines. They run until Stop is called or the
// parent context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.settings.Concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}
		p.process(ctx, job)
	}
}

// ProcessOne pulls and processes a single job. It exists for tests and
// single-shot tools; returns whether a job was processed and the executor's
// error, after retry handling has been applied.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	return true, p.process(ctx, job)
}

func (p *Pool) process(ctx context.Context, job *taskqueue.Job) error {
	err := p.executor.Execute(ctx, job)
	if err == nil {
		p.logger.Debug().
			Str("jobId", job.ID).
			Str("queue", string(job.Queue)).
			Int("attempt", job.Attempt).
			Msg("job completed")
		return nil
	}

	p.logger.Error().
		Err(err).
		Str("jobId", job.ID).
		Str("queue", string(job.Queue)).
		Int("attempt", job.Attempt).
		Msg("job failed")

	if api.IsQuota(err) || api.IsValidation(err) {
		p.logger.Warn().
			Str("jobId", job.ID).
			Msg("unrecoverable failure, not retrying")
		p.exhausted(ctx, job, err)
		return err
	}

	if job.Attempt >= p.settings.MaxAttempts {
		p.exhausted(ctx, job, err)
		return err
	}

	retry := *job
	retry.Attempt = job.Attempt + 1
	retry.NotBefore = time.Now().Add(p.backoff(job.Attempt))
	if enqErr := p.queue.Enqueue(ctx, retry); enqErr != nil {
		p.logger.Error().
			Err(enqErr).
			Str("jobId", job.ID).
			Msg("failed to re-enqueue job for retry")
		p.exhausted(ctx, job, err)
	}
	return err
}

// backoff doubles the initial delay for each completed attempt.
func (p *Pool) backoff(attempt int) time.Duration {
	d := p.settings.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (p *Pool) exhausted(ctx context.Context, job *taskqueue.Job, err error) {
	if p.OnExhausted != nil {
		p.OnExhausted(ctx, job, err)
	}
}
