package api

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowPaused   WorkflowStatus = "paused"
	WorkflowArchived WorkflowStatus = "archived"
)

// TriggerType identifies how a workflow run is started.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
)

// Trigger describes what starts a workflow, with a type-specific config.
type Trigger struct {
	Type   TriggerType    `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// StepType identifies what kind of work a step performs. The type decides
// which queue the step is dispatched to and which executor handles it.
type StepType string

const (
	StepAIProcess       StepType = "ai_process"
	StepEmail           StepType = "email"
	StepWebhook         StepType = "webhook"
	StepSaveData        StepType = "save_data"
	StepCondition       StepType = "condition"
	StepTransform       StepType = "transform"
	StepDocumentProcess StepType = "document_process"
)

// Step is one node in a workflow's execution chain.
//
// Steps reference their successors by id string rather than by pointer:
// NextStepID is followed when the step completes, OnErrorStepID when it
// fails. Either may be empty, which terminates the run (completed or
// failed respectively).
type Step struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          StepType       `json:"type"`
	Config        map[string]any `json:"config,omitempty"`
	NextStepID    string         `json:"nextStepId,omitempty"`
	OnErrorStepID string         `json:"onErrorStepId,omitempty"`
}

// Workflow is the reusable, user-authored definition of a trigger plus an
// ordered chain of steps. A workflow must have at least one step; the first
// step in Steps is where every run begins.
type Workflow struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"ownerId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Trigger     Trigger        `json:"trigger"`
	Steps       []Step         `json:"steps"`
	Status      WorkflowStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// StepIndex builds an index-by-id map over the workflow's steps.
//
// Successor links (NextStepID / OnErrorStepID) are always resolved through
// this map, never through embedded pointers, so a link can only ever land on
// a step of the same workflow. Build it once per workflow load.
func (w *Workflow) StepIndex() map[string]Step {
	idx := make(map[string]Step, len(w.Steps))
	for _, s := range w.Steps {
		idx[s.ID] = s
	}
	return idx
}

// FirstStep returns the entry step of the workflow.
// The second return is false for a workflow with no steps.
func (w *Workflow) FirstStep() (Step, bool) {
	if len(w.Steps) == 0 {
		return Step{}, false
	}
	return w.Steps[0], true
}
