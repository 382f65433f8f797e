// Package provider abstracts AI completion backends. Implementations wrap a
// vendor SDK; the registry decides which one serves a request.
package provider

import "context"

// CompletionOptions tune a single completion call. Zero values fall back to
// per-provider defaults.
type CompletionOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
	TopP        float32
}

// CompletionResult is a free-form text completion plus its usage accounting.
type CompletionResult struct {
	Content          string
	TokensUsed       int
	PromptTokens     int
	CompletionTokens int
	Model            string
	LatencyMs        int64
}

// StructuredResult is a schema-constrained completion parsed into a JSON
// document.
type StructuredResult struct {
	Data             map[string]any
	TokensUsed       int
	PromptTokens     int
	CompletionTokens int
	Model            string
	LatencyMs        int64
}

// Provider is one AI completion backend.
//
// CompleteWithSchema must validate the parsed response against the given
// JSON schema and reject documents that do not conform. Quota and rate-limit
// rejections must surface as api.QuotaError so the queue layer knows not to
// retry.
type Provider interface {
	Name() string

	Complete(ctx context.Context, prompt, systemPrompt string, opts CompletionOptions) (CompletionResult, error)

	CompleteWithSchema(ctx context.Context, prompt string, schema map[string]any, systemPrompt string, opts CompletionOptions) (StructuredResult, error)
}
