package autoflow

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// TestLocalRunnerWithObserverAndBasicMetrics verifies that:
//   - WithObserver is usable from the public API
//   - BasicMetrics sees expected run/step counts for successes and failures
//   - The builder and LocalRunner work end-to-end without external infra.
func TestLocalRunnerWithObserverAndBasicMetrics(t *testing.T) {
	ctx := awaitCtx(t)

	metrics := &BasicMetrics{}
	observer := NewCompositeObserver(
		NewLoggingObserver(zerolog.Nop()),
		metrics,
	)

	runner := NewLocalRunner(WithObserver(observer))
	require.NoError(t, runner.Start(ctx))
	defer runner.Stop()

	// Completes: a single transform step.
	ok := NewWorkflowBuilder("metrics-ok").
		Step("compose", StepTransform, map[string]any{
			"set": map[string]any{"greeting": "Hello {{name}}"},
		}).
		Active().
		MustBuild()

	runID, err := runner.RunWorkflow(ctx, ok, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	run, err := runner.AwaitRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)

	// Fails: an unmet condition with no error handler.
	bad := NewWorkflowBuilder("metrics-fail").
		Step("check", StepCondition, map[string]any{"key": "approved"}).
		Active().
		MustBuild()

	runID, err = runner.RunWorkflow(ctx, bad, map[string]any{"approved": false})
	require.NoError(t, err)
	run, err = runner.AwaitRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, RunFailed, run.Status)

	snap := metrics.Snapshot()
	require.Equal(t, int64(2), snap.RunsCreated, "expected exactly 2 runs created")
	require.Equal(t, int64(1), snap.RunsCompleted, "expected exactly 1 run completed")
	require.Equal(t, int64(1), snap.RunsFailed, "expected exactly 1 run failed")
	require.Equal(t, int64(0), snap.ActiveRuns, "expected 0 active runs")
	require.Equal(t, int64(2), snap.StepsQueued, "expected one step queued per run")
	require.Equal(t, int64(1), snap.StepsFailed, "expected the condition step to fail")
}
