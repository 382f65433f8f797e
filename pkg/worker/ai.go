package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/autoflow/autoflow/internal/engine"
	"github.com/autoflow/autoflow/internal/provider"
	"github.com/autoflow/autoflow/internal/taskqueue"
	"github.com/autoflow/autoflow/internal/template"
	"github.com/autoflow/autoflow/pkg/api"
)

// defaultOutputSchema constrains steps that declare no schema of their own
// to a plain {"result": "..."} document.
func defaultOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"result": map[string]any{"type": "string"},
		},
	}
}

// AIExecutor handles ai-processing jobs: substitute run data into the step's
// prompt, call a provider for a schema-constrained completion, audit the
// call, and report the result as the step's output.
type AIExecutor struct {
	orch      *engine.Orchestrator
	providers *provider.Registry
	logger    zerolog.Logger
}

var _ Executor = (*AIExecutor)(nil)

// NewAIExecutor creates an AIExecutor.
func NewAIExecutor(orch *engine.Orchestrator, providers *provider.Registry, logger zerolog.Logger) *AIExecutor {
	return &AIExecutor{
		orch:      orch,
		providers: providers,
		logger:    logger,
	}
}

func (e *AIExecutor) Execute(ctx context.Context, job *taskqueue.Job) error {
	payload := job.AI
	if payload == nil {
		return fmt.Errorf("job %s has no ai payload", job.ID)
	}

	e.logger.Info().
		Str("jobId", job.ID).
		Str("runId", payload.RunID).
		Str("stepId", payload.StepID).
		Msg("processing ai job")

	result, err := e.run(ctx, payload)
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
		Msg("ai job completed")
	return nil
}

func (e *AIExecutor) run(ctx context.Context, payload *taskqueue.AIPayload) (map[string]any, error) {
	run, err := e.orch.GetRun(ctx, payload.RunID)
	if err != nil {
		return nil, err
	}

	// Substitute at execution time so a retried job sees current run data.
	variables := make(map[string]any, len(run.Input)+len(run.Output))
	for k, v := range run.Input {
		variables[k] = v
	}
	for k, v := range run.Output {
		variables[k] = v
	}
	prompt := template.Replace(payload.Prompt, variables)

	schema := payload.Schema
	if len(schema) == 0 {
		schema = defaultOutputSchema()
	}

	p, err := e.providers.Get("")
	if err != nil {
		return nil, err
	}

	result, err := p.CompleteWithSchema(ctx, prompt, schema, "", provider.CompletionOptions{
		Model: payload.Model,
	})
	if err != nil {
		return nil, err
	}

	audit := &api.AIOutput{
		RunID:            payload.RunID,
		StepID:           payload.StepID,
		Model:            result.Model,
		Provider:         p.Name(),
		Prompt:           prompt,
		Response:         result.Data,
		TokensUsed:       result.TokensUsed,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		LatencyMs:        result.LatencyMs,
	}
	if err := e.orch.SaveAIOutput(ctx, audit); err != nil {
		e.logger.Warn().Err(err).Str("runId", payload.RunID).Msg("failed to save ai output audit")
	}

	e.logger.Info().
		Str("runId", payload.RunID).
		Str("stepId", payload.StepID).
		Str("provider", p.Name()).
		Str("model", result.Model).
		Int("tokensUsed", result.TokensUsed).
		Int64("latencyMs", result.LatencyMs).
		Msg("ai processing completed")

	return result.Data, nil
}
