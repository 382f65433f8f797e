package autoflow

import (
	"fmt"

	"github.com/autoflow/autoflow/pkg/api"
)

// WorkflowBuilder provides a fluent API for defining workflows:
//
//	wf, err := autoflow.NewWorkflowBuilder("Invoice intake").
//	    Owner("user-1").
//	    Trigger(autoflow.TriggerManual, nil).
//	    Step("extract", autoflow.StepAIProcess, map[string]any{
//	        "prompt": "Extract the total from: {{extractedText}}",
//	    }).
//	    Step("notify", autoflow.StepEmail, map[string]any{
//	        "to":      "billing@example.com",
//	        "subject": "Invoice processed",
//	    }).
//	    Active().
//	    Build()
//
// Steps are chained in declaration order: each Step call links the previous
// step's NextStepID to the new step. OnError breaks out of the chain for the
// most recent step only.
type WorkflowBuilder struct {
	wf  api.Workflow
	err error

	// set once Then has pinned the last step's successor, including to "";
	// the next Step call must not auto-link over it.
	nextPinned bool
}

// NewWorkflowBuilder creates a builder for a workflow with the given name.
// The workflow starts as a draft with a manual trigger.
func NewWorkflowBuilder(name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		wf: api.Workflow{
			Name:    name,
			Trigger: api.Trigger{Type: api.TriggerManual},
			Status:  api.WorkflowDraft,
			Steps:   make([]api.Step, 0),
		},
	}
}

// Owner sets the workflow's owning user.
func (b *WorkflowBuilder) Owner(ownerID string) *WorkflowBuilder {
	b.wf.OwnerID = ownerID
	return b
}

// Description sets the workflow's description.
func (b *WorkflowBuilder) Description(desc string) *WorkflowBuilder {
	b.wf.Description = desc
	return b
}

// Trigger sets how runs of this workflow are started.
func (b *WorkflowBuilder) Trigger(typ TriggerType, config map[string]any) *WorkflowBuilder {
	b.wf.Trigger = api.Trigger{Type: typ, Config: config}
	return b
}

// Step appends a step and links it as the successor of the previous one. The
// id doubles as the step name; use Named to give the last step a nicer one.
func (b *WorkflowBuilder) Step(id string, typ StepType, config map[string]any) *WorkflowBuilder {
	if id == "" {
		b.fail("step id must not be empty")
		return b
	}
	for _, s := range b.wf.Steps {
		if s.ID == id {
			b.fail(fmt.Sprintf("duplicate step id %q", id))
			return b
		}
	}
	if n := len(b.wf.Steps); n > 0 && b.wf.Steps[n-1].NextStepID == "" && !b.nextPinned {
		b.wf.Steps[n-1].NextStepID = id
	}
	b.nextPinned = false
	b.wf.Steps = append(b.wf.Steps, api.Step{
		ID:     id,
		Name:   id,
		Type:   typ,
		Config: config,
	})
	return b
}

// Named sets the display name of the most recently added step.
func (b *WorkflowBuilder) Named(name string) *WorkflowBuilder {
	if len(b.wf.Steps) == 0 {
		b.fail("Named called before any Step")
		return b
	}
	b.wf.Steps[len(b.wf.Steps)-1].Name = name
	return b
}

// Then overrides the NextStepID of the most recently added step, detaching
// it from automatic chaining. Then("") makes the step terminal; used for
// branch endpoints declared before later steps.
func (b *WorkflowBuilder) Then(stepID string) *WorkflowBuilder {
	if len(b.wf.Steps) == 0 {
		b.fail("Then called before any Step")
		return b
	}
	b.wf.Steps[len(b.wf.Steps)-1].NextStepID = stepID
	b.nextPinned = true
	return b
}

// OnError sets the error-handler step of the most recently added step. For
// condition steps this is the "false" branch.
func (b *WorkflowBuilder) OnError(stepID string) *WorkflowBuilder {
	if len(b.wf.Steps) == 0 {
		b.fail("OnError called before any Step")
		return b
	}
	b.wf.Steps[len(b.wf.Steps)-1].OnErrorStepID = stepID
	return b
}

// Active marks the workflow as active, making its step links subject to full
// validation on save.
func (b *WorkflowBuilder) Active() *WorkflowBuilder {
	b.wf.Status = api.WorkflowActive
	return b
}

// Status sets an explicit workflow status.
func (b *WorkflowBuilder) Status(status WorkflowStatus) *WorkflowBuilder {
	b.wf.Status = status
	return b
}

func (b *WorkflowBuilder) fail(msg string) {
	if b.err == nil {
		b.err = fmt.Errorf("autoflow: %s", msg)
	}
}

// Build validates and returns the workflow. The returned workflow has no ID
// yet; SaveWorkflow assigns one.
func (b *WorkflowBuilder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	wf := b.wf
	wf.Steps = append([]api.Step(nil), b.wf.Steps...)
	if err := api.ValidateWorkflow(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// MustBuild is like Build but panics on error. Useful for fixtures and
// examples.
func (b *WorkflowBuilder) MustBuild() *Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}
