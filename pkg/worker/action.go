package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/autoflow/autoflow/internal/email"
	"github.com/autoflow/autoflow/internal/engine"
	"github.com/autoflow/autoflow/internal/taskqueue"
	"github.com/autoflow/autoflow/internal/template"
	"github.com/autoflow/autoflow/pkg/api"
)

// ActionExecutor handles action-execution jobs: email, webhook, save_data,
// condition, and transform steps.
type ActionExecutor struct {
	orch   *engine.Orchestrator
	sender email.Sender
	client *http.Client
	logger zerolog.Logger
}

var _ Executor = (*ActionExecutor)(nil)

// NewActionExecutor creates an ActionExecutor. A nil client defaults to an
// http.Client with a 30s timeout.
func NewActionExecutor(orch *engine.Orchestrator, sender email.Sender, client *http.Client, logger zerolog.Logger) *ActionExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ActionExecutor{
		orch:   orch,
		sender: sender,
		client: client,
		logger: logger,
	}
}

func (e *ActionExecutor) Execute(ctx context.Context, job *taskqueue.Job) error {
	payload := job.Action
	if payload == nil {
		return fmt.Errorf("job %s has no action payload", job.ID)
	}

	e.logger.Info().
		Str("jobId", job.ID).
		Str("runId", payload.RunID).
		Str("stepId", payload.StepID).
		Str("actionType", payload.ActionType).
		Msg("executing action")

	var result map[string]any
	var err error

	switch api.StepType(payload.ActionType) {
	case api.StepEmail:
		result = e.handleEmail(payload.Config, payload.Data)
	case api.StepWebhook:
		result, err = e.handleWebhook(ctx, payload.Config, payload.Data)
	case api.StepSaveData:
		result = e.handleSaveData(payload.Config, payload.Data)
	case api.StepCondition:
		result, err = e.handleCondition(payload.Config, payload.Data)
	case api.StepTransform:
		result = e.handleTransform(payload.Config, payload.Data)
	default:
		err = fmt.Errorf("unknown action type: %s", payload.ActionType)
	}

	if err != nil {
		if failErr := e.orch.FailStep(ctx, payload.RunID, payload.StepID, err.Error()); failErr != nil {
			e.logger.Error().Err(failErr).Str("runId", payload.RunID).Msg("failed to report step failure")
		}
		return err
	}

	if err := e.orch.CompleteStep(ctx, payload.RunID, payload.StepID, map[string]any{
		payload.StepID: result,
	}); err != nil {
		return err
	}

	e.logger.Info().
		Str("jobId", job.ID).
		Str("runId", payload.RunID).
		Str("stepId", payload.StepID).
		Str("actionType", payload.ActionType).
		Msg("action completed")
	return nil
}

// handleEmail renders the recipient, subject, and body against run data and
// sends. Delivery problems go into the step result, not an error; a bounced
// notification should not fail the workflow.
func (e *ActionExecutor) handleEmail(config, data map[string]any) map[string]any {
	context := make(map[string]any, len(data)+1)
	for k, v := range data {
		context[k] = v
	}
	context["timestamp"] = time.Now().Format("1/2/2006, 3:04:05 PM")

	to := template.Replace(configString(config, "to"), context)
	subject := template.Replace(configString(config, "subject"), context)
	body := configString(config, "body")
	if body == "" {
		body = configString(config, "template")
	}
	body = template.Replace(body, context)

	res := e.sender.Send(email.Message{To: to, Subject: subject, Body: body})

	e.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Bool("success", res.Success).
		Msg("email action executed")

	status := "sent"
	if !res.Success {
		status = "failed"
	}
	result := map[string]any{
		"action":    "email",
		"to":        to,
		"subject":   subject,
		"status":    status,
		"messageId": res.MessageID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if res.Error != "" {
		result["error"] = res.Error
	}
	return result
}

// handleWebhook posts run data to the configured URL. The HTTP status code
// is recorded in the result; only transport failures error out (and get
// retried by the pool).
func (e *ActionExecutor) handleWebhook(ctx context.Context, config, data map[string]any) (map[string]any, error) {
	url := configString(config, "url")
	method := configString(config, "method")
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if tpl := configString(config, "bodyTemplate"); tpl != "" {
		body = []byte(template.Replace(tpl, data))
	} else {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if method != http.MethodGet {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var responseData map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&responseData); err != nil {
		responseData = map[string]any{}
	}

	e.logger.Info().
		Str("url", url).
		Str("method", method).
		Int("status", resp.StatusCode).
		Msg("webhook action executed")

	return map[string]any{
		"action":    "webhook",
		"url":       url,
		"method":    method,
		"status":    resp.StatusCode,
		"response":  responseData,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// handleSaveData projects run data through the configured field mapping and
// records the projection in the step result.
func (e *ActionExecutor) handleSaveData(config, data map[string]any) map[string]any {
	collection := configString(config, "collection")
	if collection == "" {
		collection = "default"
	}

	mapped := make(map[string]any)
	if mapping, ok := config["mapping"].(map[string]any); ok && len(mapping) > 0 {
		for targetField, sourceField := range mapping {
			if src, ok := sourceField.(string); ok {
				mapped[targetField] = data[src]
			}
		}
	} else {
		for k, v := range data {
			mapped[k] = v
		}
	}

	e.logger.Info().Str("collection", collection).Msg("save data action executed")

	return map[string]any{
		"action":     "save_data",
		"collection": collection,
		"savedData":  mapped,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
}

// handleCondition checks run data against the configured key. A met
// condition completes the step and execution follows NextStepID; an unmet
// one fails it, routing to OnErrorStepID when present. The error is a
// ValidationError so the pool never retries a deterministic check.
func (e *ActionExecutor) handleCondition(config, data map[string]any) (map[string]any, error) {
	key := configString(config, "key")
	value, present := data[key]

	met := present && truthy(value)
	if expected, ok := config["equals"]; ok {
		met = present && fmt.Sprint(value) == fmt.Sprint(expected)
	}

	if !met {
		return nil, api.NewValidationError(fmt.Sprintf("Condition not met: %s", key))
	}
	return map[string]any{
		"action": "condition",
		"key":    key,
		"value":  value,
		"met":    true,
	}, nil
}

// handleTransform renders the configured "set" map against run data and
// emits it as the step result.
func (e *ActionExecutor) handleTransform(config, data map[string]any) map[string]any {
	result := make(map[string]any)
	if set, ok := config["set"].(map[string]any); ok {
		for k, v := range set {
			if s, ok := v.(string); ok {
				result[k] = template.Replace(s, data)
			} else {
				result[k] = v
			}
		}
	}
	result["action"] = "transform"
	return result
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}
