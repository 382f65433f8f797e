package api

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Observer receives callbacks from the run orchestrator for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay run execution.
type Observer interface {
	// OnRunCreated is called once when a run is first created, before any
	// step or document job is dispatched.
	OnRunCreated(ctx context.Context, run *Run)

	// OnStepQueued is called after a step's job has been handed to a queue.
	OnStepQueued(ctx context.Context, run *Run, step Step)

	// OnStepCompleted is called when a step executor reports back, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, run *Run, stepID string, err error)

	// OnRunFinished is called exactly once when a run reaches a terminal
	// status (completed, failed, or cancelled).
	OnRunFinished(ctx context.Context, run *Run)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunCreated(ctx context.Context, run *Run)                        {}
func (NoopObserver) OnStepQueued(ctx context.Context, run *Run, step Step)             {}
func (NoopObserver) OnStepCompleted(ctx context.Context, run *Run, id string, e error) {}
func (NoopObserver) OnRunFinished(ctx context.Context, run *Run)                       {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunCreated(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCreated(ctx, run)
	}
}

func (c *CompositeObserver) OnStepQueued(ctx context.Context, run *Run, step Step) {
	for _, o := range c.observers {
		o.OnStepQueued(ctx, run, step)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run *Run, stepID string, err error) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, stepID, err)
	}
}

func (c *CompositeObserver) OnRunFinished(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunFinished(ctx, run)
	}
}

// LoggingObserver writes structured logs for run lifecycle events.
type LoggingObserver struct {
	Logger zerolog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided zerolog logger.
func NewLoggingObserver(logger zerolog.Logger) Observer {
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunCreated(ctx context.Context, run *Run) {
	o.Logger.Info().
		Str("runId", run.ID).
		Str("workflowId", run.WorkflowID).
		Msg("run created")
}

func (o *LoggingObserver) OnStepQueued(ctx context.Context, run *Run, step Step) {
	o.Logger.Debug().
		Str("runId", run.ID).
		Str("stepId", step.ID).
		Str("stepType", string(step.Type)).
		Msg("step queued")
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run *Run, stepID string, err error) {
	evt := o.Logger.Debug()
	if err != nil {
		evt = o.Logger.Error().Err(err)
	}
	evt.
		Str("runId", run.ID).
		Str("stepId", stepID).
		Msg("step finished")
}

func (o *LoggingObserver) OnRunFinished(ctx context.Context, run *Run) {
	evt := o.Logger.Info()
	if run.Status == RunFailed {
		evt = o.Logger.Error().Str("error", run.Error)
	}
	evt.
		Str("runId", run.ID).
		Str("status", string(run.Status)).
		Msg("run finished")
}

// BasicMetrics collects simple run and step counters.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsCreated   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
	runsCancelled atomic.Int64
	stepsQueued   atomic.Int64
	stepsFailed   atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsCreated   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCancelled int64
	ActiveRuns    int64

	StepsQueued int64
	StepsFailed int64
}

func (m *BasicMetrics) OnRunCreated(ctx context.Context, run *Run) {
	m.runsCreated.Add(1)
}

func (m *BasicMetrics) OnStepQueued(ctx context.Context, run *Run, step Step) {
	m.stepsQueued.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, run *Run, stepID string, err error) {
	if err != nil {
		m.stepsFailed.Add(1)
	}
}

func (m *BasicMetrics) OnRunFinished(ctx context.Context, run *Run) {
	switch run.Status {
	case RunCompleted:
		m.runsCompleted.Add(1)
	case RunFailed:
		m.runsFailed.Add(1)
	case RunCancelled:
		m.runsCancelled.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	created := m.runsCreated.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	cancelled := m.runsCancelled.Load()

	return BasicMetricsSnapshot{
		RunsCreated:   created,
		RunsCompleted: completed,
		RunsFailed:    failed,
		RunsCancelled: cancelled,
		ActiveRuns:    created - completed - failed - cancelled,
		StepsQueued:   m.stepsQueued.Load(),
		StepsFailed:   m.stepsFailed.Load(),
	}
}
