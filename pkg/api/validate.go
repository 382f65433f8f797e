package api

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateWorkflow checks a workflow definition before it is saved.
//
// It enforces:
//   - name and at least one step
//   - unique, non-empty step ids and known step types
//   - a per-type config shape (tagged union: the step type decides which
//     config keys are required)
//   - link integrity: NextStepID / OnErrorStepID must reference a step in
//     the same workflow. Draft workflows are exempt from the link check so
//     a half-built chain can still be saved.
//
// A dangling link that slipped past validation would otherwise stall a run
// at dispatch time with no terminal state, so this is checked up front.
func ValidateWorkflow(w *Workflow) error {
	if w.Name == "" {
		return NewValidationError("workflow name is required")
	}
	if len(w.Steps) == 0 {
		return NewValidationError("workflow must have at least one step")
	}

	seen := make(map[string]bool, len(w.Steps))
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.ID == "" {
			return NewValidationError(fmt.Sprintf("step %d has no id", i))
		}
		if seen[s.ID] {
			return NewValidationError(fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = true

		if err := validateStepConfig(s); err != nil {
			return err
		}
	}

	if w.Status != WorkflowDraft {
		idx := w.StepIndex()
		for _, s := range w.Steps {
			if s.NextStepID != "" {
				if _, ok := idx[s.NextStepID]; !ok {
					return NewValidationError(fmt.Sprintf("step %q: nextStepId %q does not reference a step in this workflow", s.ID, s.NextStepID))
				}
			}
			if s.OnErrorStepID != "" {
				if _, ok := idx[s.OnErrorStepID]; !ok {
					return NewValidationError(fmt.Sprintf("step %q: onErrorStepId %q does not reference a step in this workflow", s.ID, s.OnErrorStepID))
				}
			}
		}
	}

	return nil
}

func validateStepConfig(s *Step) error {
	switch s.Type {
	case StepAIProcess:
		if configString(s.Config, "prompt") == "" {
			return NewValidationError(fmt.Sprintf("step %q: ai_process requires a prompt", s.ID))
		}
		if raw, ok := s.Config["outputSchema"]; ok {
			if err := validateOutputSchema(s.ID, raw); err != nil {
				return err
			}
		}
	case StepEmail:
		if configString(s.Config, "to") == "" {
			return NewValidationError(fmt.Sprintf("step %q: email requires a recipient", s.ID))
		}
		if configString(s.Config, "subject") == "" {
			return NewValidationError(fmt.Sprintf("step %q: email requires a subject", s.ID))
		}
		if configString(s.Config, "body") == "" && configString(s.Config, "template") == "" {
			return NewValidationError(fmt.Sprintf("step %q: email requires a body or template", s.ID))
		}
	case StepWebhook:
		if configString(s.Config, "url") == "" {
			return NewValidationError(fmt.Sprintf("step %q: webhook requires a url", s.ID))
		}
	case StepSaveData, StepDocumentProcess:
		// No required keys.
	case StepCondition:
		if configString(s.Config, "key") == "" {
			return NewValidationError(fmt.Sprintf("step %q: condition requires a key", s.ID))
		}
	case StepTransform:
		if _, ok := s.Config["set"].(map[string]any); !ok {
			return NewValidationError(fmt.Sprintf("step %q: transform requires a set mapping", s.ID))
		}
	default:
		return NewValidationError(fmt.Sprintf("step %q: unknown step type %q", s.ID, s.Type))
	}
	return nil
}

// validateOutputSchema verifies that an ai_process step's output schema is a
// compilable JSON schema. A bad schema is caught here instead of at run time
// inside the AI executor.
func validateOutputSchema(stepID string, raw any) error {
	schema, ok := raw.(map[string]any)
	if !ok {
		return NewValidationError(fmt.Sprintf("step %q: schema must be an object", stepID))
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return NewValidationError(fmt.Sprintf("step %q: schema is not valid JSON: %v", stepID, err))
	}
	if _, err := jsonschema.CompileString(stepID+".schema.json", string(data)); err != nil {
		return NewValidationError(fmt.Sprintf("step %q: invalid schema: %v", stepID, err))
	}
	return nil
}

func configString(config map[string]any, key string) string {
	if config == nil {
		return ""
	}
	s, _ := config[key].(string)
	return s
}
