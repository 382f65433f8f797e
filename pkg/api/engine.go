package api

import "context"

// Engine is the high-level orchestration API.
//
// CreateRun returns as soon as the first job is enqueued; all further
// progress is asynchronous and driven by step executors reporting back via
// CompleteStep / FailStep.
type Engine interface {
	// SaveWorkflow validates and persists a workflow definition. Missing
	// ids and timestamps are filled in. Non-draft workflows must pass the
	// full graph validation (see ValidateWorkflow).
	SaveWorkflow(ctx context.Context, w *Workflow) error

	// GetWorkflow looks up a workflow by id.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// DeleteWorkflow removes a workflow definition. Deletion is rejected
	// with a ValidationError while the workflow has pending or processing
	// runs.
	DeleteWorkflow(ctx context.Context, id string) error

	// CreateRun starts a new run of the given workflow and returns its id.
	// If input carries a file reference (filePath / fileId), a document
	// extraction job is dispatched first and the run stays pending until
	// extraction completes; otherwise the first step is queued immediately.
	CreateRun(ctx context.Context, workflowID, ownerID string, input map[string]any) (string, error)

	// CancelRun cancels a pending or processing run owned by ownerID.
	CancelRun(ctx context.Context, runID, ownerID string) error

	// GetRun looks up a run by id.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListLogs returns the run's log entries in append order.
	ListLogs(ctx context.Context, runID string) ([]*LogEntry, error)

	// CompleteStep records a step's output, merges it into the run output,
	// and queues the successor step or completes the run. Called by step
	// executors.
	CompleteStep(ctx context.Context, runID, stepID string, output map[string]any) error

	// FailStep records a step failure and routes to the step's error
	// handler, or fails the run when none is configured. Called by step
	// executors.
	FailStep(ctx context.Context, runID, stepID, message string) error
}
