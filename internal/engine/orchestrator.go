package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/autoflow/autoflow/internal/persistence"
	"github.com/autoflow/autoflow/internal/taskqueue"
	"github.com/autoflow/autoflow/pkg/api"
)

// Orchestrator drives runs through their lifecycle. It owns all run state
// transitions; executors never write run state directly, they report back
// through CompleteStep / FailStep.
//
// A run has at most one in-flight step at a time (tracked by CurrentStepID),
// so step reports for anything else are stale and ignored.
type Orchestrator struct {
	store      persistence.Store
	dispatcher *taskqueue.Dispatcher
	observer   api.Observer
	logger     zerolog.Logger

	// uploadDir resolves bare file ids in run input to paths on disk.
	uploadDir string
}

// Ensure Orchestrator implements the public engine API.
var _ api.Engine = (*Orchestrator)(nil)

// Config carries the orchestrator's collaborators.
type Config struct {
	Store      persistence.Store
	Dispatcher *taskqueue.Dispatcher
	Observer   api.Observer
	Logger     zerolog.Logger
	UploadDir  string
}

// New creates an Orchestrator. A nil Observer defaults to NoopObserver.
func New(cfg Config) *Orchestrator {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	return &Orchestrator{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		observer:   obs,
		logger:     cfg.Logger,
		uploadDir:  uploadDir,
	}
}

func (o *Orchestrator) SaveWorkflow(ctx context.Context, w *api.Workflow) error {
	now := time.Now().UTC()
	if w.ID == "" {
		w.ID = uuid.NewString()
		w.CreatedAt = now
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if w.Status == "" {
		w.Status = api.WorkflowDraft
	}

	if err := api.ValidateWorkflow(w); err != nil {
		return err
	}
	return o.store.SaveWorkflow(ctx, w)
}

func (o *Orchestrator) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	w, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, api.NewNotFoundError("workflow")
		}
		return nil, err
	}
	return w, nil
}

func (o *Orchestrator) DeleteWorkflow(ctx context.Context, id string) error {
	err := o.store.DeleteWorkflow(ctx, id)
	switch {
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		return api.NewNotFoundError("workflow")
	case errors.Is(err, persistence.ErrWorkflowHasActiveRuns):
		return api.NewValidationError("Cannot delete workflow with active runs")
	default:
		return err
	}
}

// CreateRun starts a new run. If input references a file (filePath or
// fileId), a document extraction job is dispatched and the run stays pending
// until the extracted text has been merged into its input; otherwise the
// first step is queued immediately.
func (o *Orchestrator) CreateRun(ctx context.Context, workflowID, ownerID string, input map[string]any) (string, error) {
	workflow, err := o.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if workflow.OwnerID != "" && ownerID != "" && workflow.OwnerID != ownerID {
		return "", api.NewAuthorizationError("workflow belongs to another user")
	}
	if len(workflow.Steps) == 0 {
		return "", api.NewValidationError("workflow must have at least one step")
	}

	run := &api.Run{
		ID:         uuid.NewString(),
		WorkflowID: workflow.ID,
		OwnerID:    ownerID,
		Status:     api.RunPending,
		Input:      input,
		StartedAt:  time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return "", err
	}

	o.addLog(ctx, run.ID, "", api.LogInfo, "Run created", map[string]any{
		"workflowId": workflow.ID,
	})
	o.observer.OnRunCreated(ctx, run)
	o.logger.Info().
		Str("runId", run.ID).
		Str("workflowId", workflow.ID).
		Msg("run created")

	if payload, ok := o.fileReference(run); ok {
		job := taskqueue.Job{
			ID:         uuid.NewString(),
			Queue:      taskqueue.QueueDocument,
			Attempt:    1,
			Document:   payload,
			EnqueuedAt: time.Now(),
		}
		if err := o.dispatcher.Dispatch(ctx, job); err != nil {
			return "", err
		}
		return run.ID, nil
	}

	if err := o.StartFirstStep(ctx, run.ID); err != nil {
		return "", err
	}
	return run.ID, nil
}

// fileReference extracts a document payload from run input, if any.
// filePath wins over fileId; bare file ids resolve under the upload dir.
func (o *Orchestrator) fileReference(run *api.Run) (*taskqueue.DocumentPayload, bool) {
	fileURL, _ := run.Input["filePath"].(string)
	if fileURL == "" {
		fileID, _ := run.Input["fileId"].(string)
		if fileID == "" {
			return nil, false
		}
		fileURL = filepath.Join(o.uploadDir, fileID)
	}

	fileType, _ := run.Input["fileType"].(string)
	if fileType == "" {
		fileType = "application/pdf"
	}

	return &taskqueue.DocumentPayload{
		RunID:    run.ID,
		FileURL:  fileURL,
		FileType: fileType,
	}, true
}

// StartFirstStep queues the workflow's entry step. The document executor
// calls this after merging extracted text into the run input.
func (o *Orchestrator) StartFirstStep(ctx context.Context, runID string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	workflow, err := o.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return err
	}
	first, ok := workflow.FirstStep()
	if !ok {
		return o.FailRun(ctx, run, "workflow has no steps")
	}
	return o.QueueStep(ctx, run, first)
}

// QueueStep marks the step as the run's in-flight step and dispatches its
// job. The run state is persisted before dispatch so a report arriving
// immediately (even the synchronous unknown-type failure) passes the
// current-step check.
func (o *Orchestrator) QueueStep(ctx context.Context, run *api.Run, step api.Step) error {
	run.Status = api.RunProcessing
	run.CurrentStepID = step.ID
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	job := taskqueue.Job{
		ID:         uuid.NewString(),
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}

	// Action steps see accumulated output once any step has produced some;
	// until then they work from the trigger input.
	data := run.Input
	if len(run.Output) > 0 {
		data = run.Output
	}

	switch step.Type {
	case api.StepAIProcess:
		prompt, _ := step.Config["prompt"].(string)
		schema, _ := step.Config["outputSchema"].(map[string]any)
		model, _ := step.Config["model"].(string)
		job.Queue = taskqueue.QueueAI
		job.AI = &taskqueue.AIPayload{
			RunID:  run.ID,
			StepID: step.ID,
			Prompt: prompt,
			Schema: schema,
			Model:  model,
		}

	case api.StepDocumentProcess:
		fileURL, _ := step.Config["filePath"].(string)
		if fileURL == "" {
			fileURL, _ = run.Input["filePath"].(string)
		}
		fileType, _ := step.Config["fileType"].(string)
		job.Queue = taskqueue.QueueDocument
		job.Document = &taskqueue.DocumentPayload{
			RunID:    run.ID,
			FileURL:  fileURL,
			FileType: fileType,
		}

	case api.StepEmail, api.StepWebhook, api.StepSaveData, api.StepCondition, api.StepTransform:
		job.Queue = taskqueue.QueueAction
		job.Action = &taskqueue.ActionPayload{
			RunID:      run.ID,
			StepID:     step.ID,
			ActionType: string(step.Type),
			Config:     step.Config,
			Data:       data,
		}

	default:
		// An unrecognized type is a definition bug; failing loudly beats
		// leaving the run stuck in processing forever.
		return o.FailStep(ctx, run.ID, step.ID, fmt.Sprintf("Unknown step type: %s", step.Type))
	}

	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		return err
	}

	o.addLog(ctx, run.ID, step.ID, api.LogInfo, fmt.Sprintf("Step %s queued", step.Name), nil)
	o.observer.OnStepQueued(ctx, run, step)
	o.logger.Debug().
		Str("runId", run.ID).
		Str("stepId", step.ID).
		Str("stepType", string(step.Type)).
		Msg("step queued")
	return nil
}

// CompleteStep applies a successful step result: merges the output into the
// run, then queues the successor or completes the run.
//
// Reports are only honored while the run is live and the step is still the
// run's current step; anything else is a stale delivery (a retry of a step
// the run has moved past, or a report racing a cancellation) and is dropped.
func (o *Orchestrator) CompleteStep(ctx context.Context, runID, stepID string, output map[string]any) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() || run.CurrentStepID != stepID {
		o.logger.Debug().
			Str("runId", runID).
			Str("stepId", stepID).
			Msg("ignoring stale step completion")
		return nil
	}

	workflow, err := o.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return err
	}
	steps := workflow.StepIndex()
	step, ok := steps[stepID]
	if !ok {
		return api.NewNotFoundError("step")
	}

	if run.Output == nil {
		run.Output = make(map[string]any, len(output))
	}
	for k, v := range output {
		run.Output[k] = v
	}

	o.addLog(ctx, run.ID, step.ID, api.LogInfo, fmt.Sprintf("Step %s completed", step.Name), nil)
	o.observer.OnStepCompleted(ctx, run, stepID, nil)

	if step.NextStepID == "" {
		return o.CompleteRun(ctx, run)
	}
	next, ok := steps[step.NextStepID]
	if !ok {
		return o.FailRun(ctx, run, fmt.Sprintf("next step %s not found", step.NextStepID))
	}
	return o.QueueStep(ctx, run, next)
}

// FailStep applies a step failure: routes to the step's error handler when
// one is configured, otherwise fails the run. Stale reports are dropped
// under the same rule as CompleteStep. A failure on a run or workflow that
// no longer exists cannot be reported anywhere and is also dropped.
func (o *Orchestrator) FailStep(ctx context.Context, runID, stepID, message string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		if api.IsNotFound(err) {
			return nil
		}
		return err
	}
	if run.Status.Terminal() || run.CurrentStepID != stepID {
		o.logger.Debug().
			Str("runId", runID).
			Str("stepId", stepID).
			Msg("ignoring stale step failure")
		return nil
	}

	workflow, err := o.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		if api.IsNotFound(err) {
			return nil
		}
		return err
	}
	steps := workflow.StepIndex()
	step, ok := steps[stepID]
	if !ok {
		return api.NewNotFoundError("step")
	}

	o.addLog(ctx, run.ID, step.ID, api.LogError, fmt.Sprintf("Step %s failed: %s", step.Name, message), nil)
	o.observer.OnStepCompleted(ctx, run, stepID, errors.New(message))

	if step.OnErrorStepID != "" {
		handler, ok := steps[step.OnErrorStepID]
		if ok {
			return o.QueueStep(ctx, run, handler)
		}
	}
	return o.FailRun(ctx, run, message)
}

// CompleteRun moves the run to completed.
func (o *Orchestrator) CompleteRun(ctx context.Context, run *api.Run) error {
	run.Status = api.RunCompleted
	run.CurrentStepID = ""
	run.CompletedAt = time.Now().UTC()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	o.addLog(ctx, run.ID, "", api.LogInfo, "Run completed successfully", nil)
	o.observer.OnRunFinished(ctx, run)
	o.logger.Info().
		Str("runId", run.ID).
		Msg("run completed")
	return nil
}

// FailRun moves the run to failed with the given error message.
func (o *Orchestrator) FailRun(ctx context.Context, run *api.Run, message string) error {
	run.Status = api.RunFailed
	run.Error = message
	run.CurrentStepID = ""
	run.CompletedAt = time.Now().UTC()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	o.addLog(ctx, run.ID, "", api.LogError, fmt.Sprintf("Run failed: %s", message), nil)
	o.observer.OnRunFinished(ctx, run)
	o.logger.Error().
		Str("runId", run.ID).
		Str("error", message).
		Msg("run failed")
	return nil
}

// CancelRun cancels a live run on behalf of its owner.
func (o *Orchestrator) CancelRun(ctx context.Context, runID, ownerID string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if ownerID != "" && run.OwnerID != ownerID {
		return api.NewAuthorizationError("run belongs to another user")
	}
	if run.Status.Terminal() {
		return api.NewValidationError("Run cannot be cancelled")
	}

	run.Status = api.RunCancelled
	run.CurrentStepID = ""
	run.CompletedAt = time.Now().UTC()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	o.addLog(ctx, run.ID, "", api.LogWarn, "Run cancelled by user", nil)
	o.observer.OnRunFinished(ctx, run)
	o.logger.Warn().
		Str("runId", run.ID).
		Msg("run cancelled")
	return nil
}

func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*api.Run, error) {
	return o.getRun(ctx, runID)
}

func (o *Orchestrator) ListLogs(ctx context.Context, runID string) ([]*api.LogEntry, error) {
	return o.store.ListLogs(ctx, runID)
}

// MergeRunInput folds extra keys into a run's input. The document executor
// uses it to attach extracted text before the first step runs.
func (o *Orchestrator) MergeRunInput(ctx context.Context, runID string, extra map[string]any) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	if run.Input == nil {
		run.Input = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		run.Input[k] = v
	}
	return o.store.UpdateRun(ctx, run)
}

// AddLog appends one entry to the run's log stream.
func (o *Orchestrator) AddLog(ctx context.Context, runID, stepID string, level api.LogLevel, message string, metadata map[string]any) {
	o.addLog(ctx, runID, stepID, level, message, metadata)
}

// PurgeLogs removes run log entries older than the retention window and
// reports how many were removed.
func (o *Orchestrator) PurgeLogs(ctx context.Context) (int, error) {
	return o.store.PurgeLogs(ctx, time.Now().Add(-api.LogRetention))
}

// SaveAIOutput records an AI call audit entry, filling in id and timestamp.
func (o *Orchestrator) SaveAIOutput(ctx context.Context, out *api.AIOutput) error {
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	return o.store.SaveAIOutput(ctx, out)
}

// ListAIOutputs returns the AI call audit records of a run in call order.
func (o *Orchestrator) ListAIOutputs(ctx context.Context, runID string) ([]*api.AIOutput, error) {
	return o.store.ListAIOutputs(ctx, runID)
}

// ListWorkflows returns workflows, optionally filtered by owner.
func (o *Orchestrator) ListWorkflows(ctx context.Context, ownerID string) ([]*api.Workflow, error) {
	return o.store.ListWorkflows(ctx, ownerID)
}

// ListRuns returns runs, optionally filtered by workflow.
func (o *Orchestrator) ListRuns(ctx context.Context, workflowID string) ([]*api.Run, error) {
	return o.store.ListRuns(ctx, workflowID)
}

func (o *Orchestrator) getRun(ctx context.Context, runID string) (*api.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, api.NewNotFoundError("run")
		}
		return nil, err
	}
	return run, nil
}

// addLog is best-effort; a logging failure must never break run execution.
func (o *Orchestrator) addLog(ctx context.Context, runID, stepID string, level api.LogLevel, message string, metadata map[string]any) {
	entry := &api.LogEntry{
		ID:        uuid.NewString(),
		RunID:     runID,
		StepID:    stepID,
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := o.store.AppendLog(ctx, entry); err != nil {
		o.logger.Warn().
			Err(err).
			Str("runId", runID).
			Msg("failed to append run log")
	}
}
