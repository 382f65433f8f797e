package autoflow

import (
	"context"
	"testing"
	"time"

	"github.com/autoflow/autoflow/internal/provider"
)

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func stepResult(t *testing.T, run *Run, stepID string) map[string]any {
	t.Helper()
	result, ok := run.Output[stepID].(map[string]any)
	if !ok {
		t.Fatalf("run output has no result for step %q: %#v", stepID, run.Output)
	}
	return result
}

func TestLocalRunnerRunsWorkflowEndToEnd(t *testing.T) {
	ctx := awaitCtx(t)

	runner := NewLocalRunner()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	wf := NewWorkflowBuilder("greet").
		Owner("user-1").
		Step("compose", StepTransform, map[string]any{
			"set": map[string]any{"greeting": "Hello {{name}}"},
		}).
		Step("notify", StepEmail, map[string]any{
			"to":      "{{email}}",
			"subject": "Greeting ready",
			"body":    "A greeting was composed at {{timestamp}}",
		}).
		Active().
		MustBuild()

	runID, err := runner.RunWorkflow(ctx, wf, map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
	})
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}

	run, err := runner.AwaitRun(ctx, runID)
	if err != nil {
		t.Fatalf("AwaitRun: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("run status = %q (error %q), want completed", run.Status, run.Error)
	}

	compose := stepResult(t, run, "compose")
	if compose["greeting"] != "Hello Ada" {
		t.Fatalf("greeting = %v", compose["greeting"])
	}

	// No SMTP configured, so the email goes through the logging sender but
	// still reports as sent.
	notify := stepResult(t, run, "notify")
	if notify["status"] != "sent" {
		t.Fatalf("email status = %v", notify["status"])
	}
	if notify["to"] != "ada@example.com" {
		t.Fatalf("email to = %v", notify["to"])
	}
}

func TestLocalRunnerConditionBranches(t *testing.T) {
	buildWorkflow := func() *Workflow {
		return NewWorkflowBuilder("triage").
			Step("check", StepCondition, map[string]any{"key": "approved"}).
			OnError("deny").
			Step("allow", StepTransform, map[string]any{
				"set": map[string]any{"decision": "approved"},
			}).
			Then("").
			Step("deny", StepTransform, map[string]any{
				"set": map[string]any{"decision": "rejected"},
			}).
			Active().
			MustBuild()
	}

	cases := []struct {
		name     string
		input    map[string]any
		wantStep string
		skipStep string
	}{
		{"met", map[string]any{"approved": true}, "allow", "deny"},
		{"unmet", map[string]any{"approved": false}, "deny", "allow"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := awaitCtx(t)

			runner := NewLocalRunner()
			if err := runner.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer runner.Stop()

			runID, err := runner.RunWorkflow(ctx, buildWorkflow(), tc.input)
			if err != nil {
				t.Fatalf("RunWorkflow: %v", err)
			}
			run, err := runner.AwaitRun(ctx, runID)
			if err != nil {
				t.Fatalf("AwaitRun: %v", err)
			}

			if run.Status != RunCompleted {
				t.Fatalf("run status = %q (error %q), want completed", run.Status, run.Error)
			}
			if _, ok := run.Output[tc.wantStep]; !ok {
				t.Fatalf("output missing %q branch: %#v", tc.wantStep, run.Output)
			}
			if _, ok := run.Output[tc.skipStep]; ok {
				t.Fatalf("output has %q branch that should not have run", tc.skipStep)
			}
		})
	}
}

// stubProvider returns a canned structured completion.
type stubProvider struct {
	data map[string]any
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, prompt, systemPrompt string, opts provider.CompletionOptions) (provider.CompletionResult, error) {
	return provider.CompletionResult{Content: "ok", Model: "stub-1"}, nil
}

func (s *stubProvider) CompleteWithSchema(ctx context.Context, prompt string, schema map[string]any, systemPrompt string, opts provider.CompletionOptions) (provider.StructuredResult, error) {
	return provider.StructuredResult{Data: s.data, Model: "stub-1", TokensUsed: 7}, nil
}

func TestLocalRunnerAIStep(t *testing.T) {
	ctx := awaitCtx(t)

	runner := NewLocalRunner(WithProvider(&stubProvider{
		data: map[string]any{"result": "invoice"},
	}))
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	wf := NewWorkflowBuilder("classify").
		Step("classify", StepAIProcess, map[string]any{
			"prompt": "Classify: {{text}}",
		}).
		Active().
		MustBuild()

	runID, err := runner.RunWorkflow(ctx, wf, map[string]any{"text": "Invoice #42"})
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	run, err := runner.AwaitRun(ctx, runID)
	if err != nil {
		t.Fatalf("AwaitRun: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("run status = %q (error %q), want completed", run.Status, run.Error)
	}
	if got := stepResult(t, run, "classify")["result"]; got != "invoice" {
		t.Fatalf("classify result = %v", got)
	}

	outputs, err := runner.Orchestrator().ListAIOutputs(ctx, runID)
	if err != nil {
		t.Fatalf("ListAIOutputs: %v", err)
	}
	if len(outputs) != 1 || outputs[0].Provider != "stub" {
		t.Fatalf("ai outputs = %#v", outputs)
	}
}

func TestRuntimeStartTwice(t *testing.T) {
	ctx := awaitCtx(t)

	runner := NewLocalRunner()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	if err := runner.Start(ctx); err == nil {
		t.Fatal("second Start should fail while running")
	}
}
