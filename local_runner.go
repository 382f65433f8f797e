package autoflow

import (
	"context"
	"time"
)

// LocalRunner is an in-memory Runtime plus a few conveniences for running a
// workflow end to end inside one process. Intended for development, tests,
// and simple single-process deployments.
//
// Typical usage:
//
//	runner := autoflow.NewLocalRunner()
//	runner.Start(ctx)
//	defer runner.Stop()
//
//	wf := autoflow.NewWorkflowBuilder("my-flow").Step(...).Active().MustBuild()
//	runID, err := runner.RunWorkflow(ctx, wf, input)
//	run, err := runner.AwaitRun(ctx, runID)
type LocalRunner struct {
	*Runtime
}

// NewLocalRunner constructs a LocalRunner over in-memory storage and queues.
func NewLocalRunner(opts ...Option) *LocalRunner {
	return &LocalRunner{Runtime: NewInMemoryEngine(opts...)}
}

// RunWorkflow saves the workflow (assigning ids as needed) and starts a run
// of it with the given input, returning the run id.
func (r *LocalRunner) RunWorkflow(ctx context.Context, wf *Workflow, input map[string]any) (string, error) {
	if err := r.Engine.SaveWorkflow(ctx, wf); err != nil {
		return "", err
	}
	return r.Engine.CreateRun(ctx, wf.ID, wf.OwnerID, input)
}

// AwaitRun polls until the run reaches a terminal status or ctx expires.
func (r *LocalRunner) AwaitRun(ctx context.Context, runID string) (*Run, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		run, err := r.Engine.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}
