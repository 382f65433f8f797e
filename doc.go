// Package autoflow is an embeddable workflow automation engine for Go.
//
// A workflow is a user-authored chain of typed steps (AI completions, emails,
// webhooks, data transforms, conditions) started by a trigger. Each execution
// of a workflow is a run: the orchestrator queues one step at a time onto a
// typed job queue, an executor pool performs the work and reports back, and
// the orchestrator advances the run along NextStepID / OnErrorStepID links
// until it reaches a terminal status.
//
// # Components
//
//   - Engine: the orchestration API. Save workflows, create and cancel runs,
//     read logs. Step executors report back through it.
//   - Runtime: an Engine bundled with its three job queues
//     (document-processing, ai-processing, action-execution) and the executor
//     pools that drain them. Backed by in-memory, SQLite, or Redis storage.
//   - WorkflowBuilder: a fluent way to define workflows in code.
//   - LocalRunner: an in-memory Runtime with helpers to run a workflow end to
//     end in one process.
//
// # Quick start
//
//	runner := autoflow.NewLocalRunner()
//	if err := runner.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer runner.Stop()
//
//	wf := autoflow.NewWorkflowBuilder("greet").
//	    Step("compose", autoflow.StepTransform, map[string]any{
//	        "set": map[string]any{"greeting": "Hello {{name}}"},
//	    }).
//	    Active().
//	    MustBuild()
//
//	runID, err := runner.RunWorkflow(ctx, wf, map[string]any{"name": "Ada"})
//	run, err := runner.AwaitRun(ctx, runID)
//
// AI steps need a provider registered via WithProvider (OpenAI and Groq
// clients are included); email steps are logged unless WithSMTP is set.
//
// Runs that start from an uploaded file (a filePath or fileId input) first
// pass through document extraction; the extracted text is merged into the
// run input before the first step executes.
package autoflow
