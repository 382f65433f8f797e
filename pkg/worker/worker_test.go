package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/autoflow/autoflow/internal/email"
	"github.com/autoflow/autoflow/internal/engine"
	"github.com/autoflow/autoflow/internal/persistence"
	"github.com/autoflow/autoflow/internal/provider"
	"github.com/autoflow/autoflow/internal/taskqueue"
	"github.com/autoflow/autoflow/pkg/api"
)

// fakeProvider returns a canned structured result, or a canned error.
type fakeProvider struct {
	name       string
	result     map[string]any
	err        error
	lastPrompt string
	lastSchema map[string]any
	calls      int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, prompt, systemPrompt string, opts provider.CompletionOptions) (provider.CompletionResult, error) {
	f.calls++
	f.lastPrompt = prompt
	if f.err != nil {
		return provider.CompletionResult{}, f.err
	}
	return provider.CompletionResult{Content: "ok", Model: "fake-model"}, nil
}

func (f *fakeProvider) CompleteWithSchema(ctx context.Context, prompt string, schema map[string]any, systemPrompt string, opts provider.CompletionOptions) (provider.StructuredResult, error) {
	f.calls++
	f.lastPrompt = prompt
	f.lastSchema = schema
	if f.err != nil {
		return provider.StructuredResult{}, f.err
	}
	return provider.StructuredResult{
		Data:             f.result,
		TokensUsed:       30,
		PromptTokens:     20,
		CompletionTokens: 10,
		Model:            "fake-model",
		LatencyMs:        5,
	}, nil
}

type fakeSender struct {
	last email.Message
	sent int
}

func (f *fakeSender) Send(msg email.Message) email.Result {
	f.sent++
	f.last = msg
	return email.Result{Success: true, MessageID: "test-1"}
}

type workerHarness struct {
	orch     *engine.Orchestrator
	store    *persistence.InMemoryStore
	document *taskqueue.InMemoryQueue
	ai       *taskqueue.InMemoryQueue
	action   *taskqueue.InMemoryQueue
}

func newWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()

	store := persistence.NewInMemoryStore()
	document := taskqueue.NewInMemoryQueue(16)
	ai := taskqueue.NewInMemoryQueue(16)
	action := taskqueue.NewInMemoryQueue(16)

	orch := engine.New(engine.Config{
		Store:      store,
		Dispatcher: taskqueue.NewDispatcher(document, ai, action),
		Logger:     zerolog.Nop(),
		UploadDir:  t.TempDir(),
	})
	return &workerHarness{orch: orch, store: store, document: document, ai: ai, action: action}
}

func (h *workerHarness) dequeue(t *testing.T, q *taskqueue.InMemoryQueue) *taskqueue.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	return job
}

func (h *workerHarness) mustRun(t *testing.T, runID string) *api.Run {
	t.Helper()
	run, err := h.orch.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	return run
}

func (h *workerHarness) saveAndStart(t *testing.T, w *api.Workflow, input map[string]any) string {
	t.Helper()
	ctx := context.Background()
	if err := h.orch.SaveWorkflow(ctx, w); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}
	runID, err := h.orch.CreateRun(ctx, w.ID, "user-1", input)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return runID
}

func aiWorkflow(prompt string, schema map[string]any) *api.Workflow {
	cfg := map[string]any{"prompt": prompt}
	if schema != nil {
		cfg["outputSchema"] = schema
	}
	return &api.Workflow{
		OwnerID: "user-1",
		Name:    "ai workflow",
		Trigger: api.Trigger{Type: api.TriggerManual},
		Status:  api.WorkflowActive,
		Steps: []api.Step{
			{ID: "analyze", Name: "analyze", Type: api.StepAIProcess, Config: cfg},
		},
	}
}

func TestAIExecutorCompletesStep(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	fake := &fakeProvider{name: "groq", result: map[string]any{"category": "invoice"}}
	registry := provider.NewRegistry()
	registry.Register(fake)
	exec := NewAIExecutor(h.orch, registry, zerolog.Nop())

	runID := h.saveAndStart(t, aiWorkflow("Classify: {{text}}", nil), map[string]any{"text": "pay me"})
	job := h.dequeue(t, h.ai)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if fake.lastPrompt != "Classify: pay me" {
		t.Fatalf("prompt not substituted: %q", fake.lastPrompt)
	}
	if fake.lastSchema["properties"] == nil {
		t.Fatalf("default schema not applied: %v", fake.lastSchema)
	}

	run := h.mustRun(t, runID)
	if run.Status != api.RunCompleted {
		t.Fatalf("expected completed, got %q", run.Status)
	}
	stepResult, _ := run.Output["analyze"].(map[string]any)
	if stepResult["category"] != "invoice" {
		t.Fatalf("result not recorded: %v", run.Output)
	}

	outputs, err := h.orch.ListAIOutputs(ctx, runID)
	if err != nil {
		t.Fatalf("ListAIOutputs failed: %v", err)
	}
	if len(outputs) != 1 || outputs[0].Provider != "groq" || outputs[0].TokensUsed != 30 {
		t.Fatalf("audit record wrong: %+v", outputs)
	}
}

func TestAIExecutorQuotaErrorNotRetried(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	fake := &fakeProvider{name: "groq", err: api.NewQuotaError("429 too many requests")}
	registry := provider.NewRegistry()
	registry.Register(fake)
	exec := NewAIExecutor(h.orch, registry, zerolog.Nop())

	pool := NewPool(h.ai, exec, taskqueue.DefaultSettings(taskqueue.QueueAI), zerolog.Nop())

	runID := h.saveAndStart(t, aiWorkflow("Classify: {{text}}", nil), map[string]any{"text": "x"})

	processed, err := pool.ProcessOne(ctx)
	if !processed {
		t.Fatal("job not processed")
	}
	if !api.IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call, got %d", fake.calls)
	}
	if h.ai.Len() != 0 {
		t.Fatalf("quota failure must not be re-enqueued, Len %d", h.ai.Len())
	}

	run := h.mustRun(t, runID)
	if run.Status != api.RunFailed {
		t.Fatalf("expected failed run, got %q", run.Status)
	}
}

type failingExecutor struct {
	calls int
	err   error
}

func (f *failingExecutor) Execute(ctx context.Context, job *taskqueue.Job) error {
	f.calls++
	return f.err
}

func TestPoolRetriesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewInMemoryQueue(16)
	exec := &failingExecutor{err: errors.New("transient")}

	settings := taskqueue.Settings{
		Concurrency:    1,
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
	}
	pool := NewPool(q, exec, settings, zerolog.Nop())

	var exhausted *taskqueue.Job
	pool.OnExhausted = func(ctx context.Context, job *taskqueue.Job, err error) {
		exhausted = job
	}

	if err := q.Enqueue(ctx, taskqueue.Job{
		ID:      "job-1",
		Queue:   taskqueue.QueueAction,
		Attempt: 1,
		Action:  &taskqueue.ActionPayload{RunID: "run-1", StepID: "step-1"},
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := pool.ProcessOne(ctx); err == nil {
			t.Fatalf("attempt %d should fail", i+1)
		}
	}

	if exec.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", exec.calls)
	}
	if exhausted == nil || exhausted.Attempt != 3 {
		t.Fatalf("OnExhausted not called with final attempt: %+v", exhausted)
	}
	if q.Len() != 0 {
		t.Fatalf("exhausted job re-enqueued, Len %d", q.Len())
	}
}

func TestActionExecutorEmail(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	sender := &fakeSender{}
	exec := NewActionExecutor(h.orch, sender, nil, zerolog.Nop())

	w := &api.Workflow{
		OwnerID: "user-1",
		Name:    "notify",
		Trigger: api.Trigger{Type: api.TriggerManual},
		Status:  api.WorkflowActive,
		Steps: []api.Step{
			{
				ID:   "notify",
				Name: "notify",
				Type: api.StepEmail,
				Config: map[string]any{
					"to":      "{{recipient}}",
					"subject": "Invoice {{invoice}}",
					"body":    "Total is {{total}}",
				},
			},
		},
	}
	runID := h.saveAndStart(t, w, map[string]any{
		"recipient": "ops@example.com",
		"invoice":   "inv-1",
		"total":     float64(99),
	})
	job := h.dequeue(t, h.action)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if sender.last.To != "ops@example.com" || sender.last.Subject != "Invoice inv-1" {
		t.Fatalf("templates not rendered: %+v", sender.last)
	}
	if sender.last.Body != "Total is 99" {
		t.Fatalf("body not rendered: %q", sender.last.Body)
	}

	run := h.mustRun(t, runID)
	if run.Status != api.RunCompleted {
		t.Fatalf("expected completed, got %q", run.Status)
	}
	result, _ := run.Output["notify"].(map[string]any)
	if result["status"] != "sent" || result["messageId"] != "test-1" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestActionExecutorWebhook(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"ack": true}`))
	}))
	defer server.Close()

	exec := NewActionExecutor(h.orch, &fakeSender{}, server.Client(), zerolog.Nop())

	w := &api.Workflow{
		OwnerID: "user-1",
		Name:    "push",
		Trigger: api.Trigger{Type: api.TriggerManual},
		Status:  api.WorkflowActive,
		Steps: []api.Step{
			{
				ID:     "push",
				Name:   "push",
				Type:   api.StepWebhook,
				Config: map[string]any{"url": server.URL},
			},
		},
	}
	runID := h.saveAndStart(t, w, map[string]any{"invoice": "inv-1"})
	job := h.dequeue(t, h.action)

	// A non-2xx response is still a delivered webhook.
	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if received["invoice"] != "inv-1" {
		t.Fatalf("run data not posted: %v", received)
	}

	run := h.mustRun(t, runID)
	if run.Status != api.RunCompleted {
		t.Fatalf("expected completed, got %q", run.Status)
	}
	result, _ := run.Output["push"].(map[string]any)
	if result["status"] != float64(http.StatusTeapot) && result["status"] != http.StatusTeapot {
		t.Fatalf("status not recorded: %v", result)
	}
	response, _ := result["response"].(map[string]any)
	if response["ack"] != true {
		t.Fatalf("response body not captured: %v", result)
	}
}

func TestActionExecutorSaveDataMapping(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	exec := NewActionExecutor(h.orch, &fakeSender{}, nil, zerolog.Nop())

	w := &api.Workflow{
		OwnerID: "user-1",
		Name:    "persist",
		Trigger: api.Trigger{Type: api.TriggerManual},
		Status:  api.WorkflowActive,
		Steps: []api.Step{
			{
				ID:   "persist",
				Name: "persist",
				Type: api.StepSaveData,
				Config: map[string]any{
					"collection": "invoices",
					"mapping": map[string]any{
						"amount": "total",
					},
				},
			},
		},
	}
	runID := h.saveAndStart(t, w, map[string]any{"total": float64(99), "noise": "x"})
	job := h.dequeue(t, h.action)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	run := h.mustRun(t, runID)
	result, _ := run.Output["persist"].(map[string]any)
	if result["collection"] != "invoices" {
		t.Fatalf("collection not recorded: %v", result)
	}
	saved, _ := result["savedData"].(map[string]any)
	if saved["amount"] != float64(99) || len(saved) != 1 {
		t.Fatalf("mapping not applied: %v", saved)
	}
}

func TestActionExecutorConditionBranches(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	sender := &fakeSender{}
	exec := NewActionExecutor(h.orch, sender, nil, zerolog.Nop())

	workflow := func() *api.Workflow {
		return &api.Workflow{
			OwnerID: "user-1",
			Name:    "gated",
			Trigger: api.Trigger{Type: api.TriggerManual},
			Status:  api.WorkflowActive,
			Steps: []api.Step{
				{
					ID:            "gate",
					Name:          "gate",
					Type:          api.StepCondition,
					Config:        map[string]any{"key": "approved"},
					NextStepID:    "accept",
					OnErrorStepID: "reject",
				},
				{
					ID:   "accept",
					Name: "accept",
					Type: api.StepEmail,
					Config: map[string]any{
						"to": "a@example.com", "subject": "approved", "body": "yes",
					},
				},
				{
					ID:   "reject",
					Name: "reject",
					Type: api.StepEmail,
					Config: map[string]any{
						"to": "a@example.com", "subject": "rejected", "body": "no",
					},
				},
			},
		}
	}

	// Condition met: execution follows NextStepID.
	runID := h.saveAndStart(t, workflow(), map[string]any{"approved": true})
	job := h.dequeue(t, h.action)
	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run := h.mustRun(t, runID); run.CurrentStepID != "accept" {
		t.Fatalf("expected accept branch, got %q", run.CurrentStepID)
	}

	// Condition unmet: the failure routes to OnErrorStepID.
	runID = h.saveAndStart(t, workflow(), map[string]any{"approved": false})
	job = h.dequeue(t, h.action)
	err := exec.Execute(ctx, job)
	if !api.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if run := h.mustRun(t, runID); run.CurrentStepID != "reject" {
		t.Fatalf("expected reject branch, got %q", run.CurrentStepID)
	}
}

func TestActionExecutorTransform(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	exec := NewActionExecutor(h.orch, &fakeSender{}, nil, zerolog.Nop())

	w := &api.Workflow{
		OwnerID: "user-1",
		Name:    "reshape",
		Trigger: api.Trigger{Type: api.TriggerManual},
		Status:  api.WorkflowActive,
		Steps: []api.Step{
			{
				ID:   "reshape",
				Name: "reshape",
				Type: api.StepTransform,
				Config: map[string]any{
					"set": map[string]any{
						"greeting": "Hello {{name}}",
						"count":    float64(3),
					},
				},
			},
		},
	}
	runID := h.saveAndStart(t, w, map[string]any{"name": "Ada"})
	job := h.dequeue(t, h.action)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	run := h.mustRun(t, runID)
	result, _ := run.Output["reshape"].(map[string]any)
	if result["greeting"] != "Hello Ada" || result["count"] != float64(3) {
		t.Fatalf("transform not applied: %v", result)
	}
}

func TestDocumentExecutorExtractsAndStartsChain(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello from disk"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	exec := NewDocumentExecutor(h.orch, nil, zerolog.Nop())

	w := aiWorkflow("Summarize {{extractedText}}", nil)
	runID := h.saveAndStart(t, w, map[string]any{
		"filePath": path,
		"fileType": "text/plain",
	})

	run := h.mustRun(t, runID)
	if run.Status != api.RunPending {
		t.Fatalf("expected pending before extraction, got %q", run.Status)
	}

	job := h.dequeue(t, h.document)
	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	run = h.mustRun(t, runID)
	if run.Status != api.RunProcessing || run.CurrentStepID != "analyze" {
		t.Fatalf("first step not started: %+v", run)
	}
	if run.Input["extractedText"] != "hello from disk" {
		t.Fatalf("text not merged: %v", run.Input)
	}
	if run.Input["originalFile"] != path || run.Input["fileType"] != "text/plain" {
		t.Fatalf("file metadata not merged: %v", run.Input)
	}

	logs, err := h.orch.ListLogs(ctx, runID)
	if err != nil {
		t.Fatalf("ListLogs failed: %v", err)
	}
	var sawExtraction bool
	for _, l := range logs {
		if strings.HasPrefix(l.Message, "Document processed: ") {
			sawExtraction = true
		}
	}
	if !sawExtraction {
		t.Fatalf("extraction log missing: %v", logs)
	}
}

func TestDocumentExecutorFailsRunWhenExhausted(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	exec := NewDocumentExecutor(h.orch, nil, zerolog.Nop())
	pool := NewPool(h.document, exec, taskqueue.Settings{
		Concurrency:    1,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
	}, zerolog.Nop())
	pool.OnExhausted = exec.FailRunOnExhausted()

	w := aiWorkflow("Summarize {{extractedText}}", nil)
	runID := h.saveAndStart(t, w, map[string]any{
		"filePath": filepath.Join(t.TempDir(), "missing.txt"),
		"fileType": "text/plain",
	})

	if _, err := pool.ProcessOne(ctx); err == nil {
		t.Fatal("expected extraction failure")
	}

	run := h.mustRun(t, runID)
	if run.Status != api.RunFailed {
		t.Fatalf("expected failed run, got %q", run.Status)
	}
	if !strings.HasPrefix(run.Error, "Document processing failed: ") {
		t.Fatalf("unexpected error: %q", run.Error)
	}
}

func TestFileExtractorRejectsPDFWithoutHook(t *testing.T) {
	e := &FileExtractor{}
	if _, err := e.Extract("doc.pdf", "application/pdf"); err == nil {
		t.Fatal("expected error for PDF without hook")
	}

	e.PDF = func(path string) (string, error) { return "pdf text", nil }
	text, err := e.Extract("doc.pdf", "application/pdf")
	if err != nil || text != "pdf text" {
		t.Fatalf("hook not used: %q %v", text, err)
	}
}
