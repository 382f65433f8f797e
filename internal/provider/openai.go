package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"

	"github.com/autoflow/autoflow/pkg/api"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGroqModel   = "llama-3.3-70b-versatile"

	groqBaseURL = "https://api.groq.com/openai/v1"
)

// OpenAIProvider serves completions through an OpenAI-compatible chat API.
// Groq exposes the same wire protocol, so both providers share this type and
// differ only in base URL and default model.
type OpenAIProvider struct {
	name         string
	client       *openai.Client
	defaultModel string
	logger       zerolog.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider backed by the OpenAI API.
func NewOpenAIProvider(apiKey string, logger zerolog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		name:         "openai",
		client:       openai.NewClient(apiKey),
		defaultModel: defaultOpenAIModel,
		logger:       logger,
	}
}

// NewGroqProvider creates a provider backed by Groq's OpenAI-compatible API.
func NewGroqProvider(apiKey string, logger zerolog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &OpenAIProvider{
		name:         "groq",
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultGroqModel,
		logger:       logger,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt, systemPrompt string, opts CompletionOptions) (CompletionResult, error) {
	start := time.Now()
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperatureOrDefault(opts.Temperature, 0.7),
		MaxTokens:   maxTokensOrDefault(opts.MaxTokens),
		TopP:        opts.TopP,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("model", model).Msg("completion failed")
		return CompletionResult{}, classifyError(err)
	}

	latency := time.Since(start).Milliseconds()
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	p.logger.Debug().
		Str("model", model).
		Int("promptTokens", resp.Usage.PromptTokens).
		Int("completionTokens", resp.Usage.CompletionTokens).
		Int64("latencyMs", latency).
		Msg("completion")

	return CompletionResult{
		Content:          content,
		TokensUsed:       resp.Usage.TotalTokens,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Model:            model,
		LatencyMs:        latency,
	}, nil
}

func (p *OpenAIProvider) CompleteWithSchema(ctx context.Context, prompt string, schema map[string]any, systemPrompt string, opts CompletionOptions) (StructuredResult, error) {
	start := time.Now()
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return StructuredResult{}, err
	}

	schemaSystemPrompt := fmt.Sprintf(`%s
You must respond with valid JSON that matches this schema:
%s

Respond ONLY with the JSON object, no additional text.`, systemPrompt, schemaJSON)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: schemaSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		// Lower temperature for structured output.
		Temperature: temperatureOrDefault(opts.Temperature, 0.3),
		MaxTokens:   maxTokensOrDefault(opts.MaxTokens),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		p.logger.Error().Err(err).Str("model", model).Msg("structured completion failed")
		return StructuredResult{}, classifyError(err)
	}

	latency := time.Since(start).Milliseconds()
	content := "{}"
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		content = resp.Choices[0].Message.Content
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		p.logger.Error().Str("content", content).Msg("failed to parse JSON response")
		return StructuredResult{}, errors.New("invalid JSON response from AI")
	}

	if err := ValidateAgainstSchema(data, schema); err != nil {
		return StructuredResult{}, err
	}

	p.logger.Debug().
		Str("model", model).
		Int("promptTokens", resp.Usage.PromptTokens).
		Int("completionTokens", resp.Usage.CompletionTokens).
		Int64("latencyMs", latency).
		Msg("structured completion")

	return StructuredResult{
		Data:             data,
		TokensUsed:       resp.Usage.TotalTokens,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Model:            model,
		LatencyMs:        latency,
	}, nil
}

// ValidateAgainstSchema checks a parsed response document against a JSON
// schema given as a decoded map.
func ValidateAgainstSchema(data map[string]any, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	compiled, err := jsonschema.CompileString("response.json", string(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}

	if err := compiled.Validate(any(data)); err != nil {
		return fmt.Errorf("AI response does not match schema: %w", err)
	}
	return nil
}

// classifyError maps provider rejections onto the error taxonomy. Quota and
// rate-limit rejections become api.QuotaError so they are never retried.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return api.NewQuotaError(err.Error())
	}
	if api.LooksLikeQuotaMessage(err.Error()) {
		return api.NewQuotaError(err.Error())
	}
	return err
}

func temperatureOrDefault(t, def float32) float32 {
	if t == 0 {
		return def
	}
	return t
}

func maxTokensOrDefault(n int) int {
	if n == 0 {
		return 2000
	}
	return n
}
