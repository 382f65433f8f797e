package api

import "time"

// RunStatus represents the lifecycle state of a run.
//
// Legal transitions:
//
//	pending -> processing -> completed | failed | cancelled
//	pending -> cancelled
//
// Terminal states are absorbing; a run never leaves them.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the status is one a run cannot leave.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run is one execution instance of a workflow.
//
// Output accumulates step results keyed by step id; later steps may
// overwrite earlier keys (shallow merge). CurrentStepID points at the step
// currently queued or executing and is empty outside processing.
type Run struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflowId"`
	OwnerID       string         `json:"ownerId"`
	Status        RunStatus      `json:"status"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	CurrentStepID string         `json:"currentStepId,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   time.Time      `json:"completedAt,omitempty"`
}

// LogLevel classifies run log entries.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one append-only structured event in a run's log stream.
// Entries are never mutated and are retained for a bounded window.
type LogEntry struct {
	ID        string         `json:"id"`
	RunID     string         `json:"runId"`
	StepID    string         `json:"stepId,omitempty"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogRetention is how long run log entries are kept before they are
// eligible for removal by Store.PurgeLogs.
const LogRetention = 30 * 24 * time.Hour

// AIOutput is a write-once audit record of one AI call made on behalf of a
// step. It exists for cost tracking and debugging; the orchestrator never
// reads it back.
type AIOutput struct {
	ID               string         `json:"id"`
	RunID            string         `json:"runId"`
	StepID           string         `json:"stepId"`
	Model            string         `json:"model"`
	Provider         string         `json:"provider"`
	Prompt           string         `json:"prompt"`
	Response         map[string]any `json:"response,omitempty"`
	TokensUsed       int            `json:"tokensUsed"`
	PromptTokens     int            `json:"promptTokens"`
	CompletionTokens int            `json:"completionTokens"`
	LatencyMs        int64          `json:"latencyMs"`
	CreatedAt        time.Time      `json:"createdAt"`
}
