package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/autoflow/autoflow/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrWorkflowHasActiveRuns is returned by DeleteWorkflow while the
	// workflow still has pending or processing runs.
	ErrWorkflowHasActiveRuns = errors.New("workflow has active runs")
)

// WorkflowStore handles storage of workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, w *api.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*api.Workflow, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]*api.Workflow, error)
	// DeleteWorkflow removes a workflow. It returns ErrWorkflowHasActiveRuns
	// if any run of the workflow is still pending or processing.
	DeleteWorkflow(ctx context.Context, id string) error
}

// RunStore handles storage of runs.
//
// UpdateRun replaces the stored run document; mutations within one run are
// serialized by the orchestrator (a run only ever has one in-flight step),
// so no multi-document transaction is required.
type RunStore interface {
	CreateRun(ctx context.Context, run *api.Run) error
	GetRun(ctx context.Context, id string) (*api.Run, error)
	UpdateRun(ctx context.Context, run *api.Run) error
	ListRuns(ctx context.Context, workflowID string) ([]*api.Run, error)
}

// LogStore handles the append-only run log streams.
type LogStore interface {
	AppendLog(ctx context.Context, entry *api.LogEntry) error
	ListLogs(ctx context.Context, runID string) ([]*api.LogEntry, error)
	// PurgeLogs removes log entries older than the cutoff and reports how
	// many were removed. Used to enforce the bounded retention window.
	PurgeLogs(ctx context.Context, olderThan time.Time) (int, error)
}

// AIOutputStore handles write-once AI call audit records.
type AIOutputStore interface {
	SaveAIOutput(ctx context.Context, out *api.AIOutput) error
	ListAIOutputs(ctx context.Context, runID string) ([]*api.AIOutput, error)
}

// Store bundles all storage concerns behind one interface.
type Store interface {
	WorkflowStore
	RunStore
	LogStore
	AIOutputStore
}
