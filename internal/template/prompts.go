package template

import "fmt"

// PromptTemplate is a named, reusable prompt with a fixed output schema.
type PromptTemplate struct {
	Name               string
	Description        string
	SystemPrompt       string
	UserPromptTemplate string
	Schema             map[string]any
}

// Prompt is a fully built prompt ready to send to a provider.
type Prompt struct {
	System string
	User   string
	Schema map[string]any
}

// promptTemplates is the built-in catalog.
var promptTemplates = map[string]PromptTemplate{
	"extractData": {
		Name:         "extractData",
		Description:  "Extract structured data from unstructured text",
		SystemPrompt: "You are a data extraction assistant. Your job is to carefully analyze text and extract specific information in a structured JSON format. Be precise and only include information that is explicitly stated in the text.",
		UserPromptTemplate: `Extract the following fields from this text:
Fields to extract: {{fields}}

Text:
{{text}}

Respond with a JSON object containing the extracted data.`,
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": true,
		},
	},

	"summarize": {
		Name:         "summarize",
		Description:  "Create a summary of the provided content",
		SystemPrompt: "You are a summarization assistant. Create concise, accurate summaries that capture the key points of the provided content.",
		UserPromptTemplate: `Summarize the following content in {{style}} style:

{{content}}

Provide a summary that is approximately {{length}} words.`,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary":   map[string]any{"type": "string"},
				"keyPoints": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"wordCount": map[string]any{"type": "number"},
			},
			"required": []any{"summary", "keyPoints"},
		},
	},

	"classify": {
		Name:         "classify",
		Description:  "Classify content into predefined categories",
		SystemPrompt: "You are a classification assistant. Analyze content and assign it to the most appropriate category from the provided options.",
		UserPromptTemplate: `Classify the following content into one of these categories: {{categories}}

Content:
{{content}}

Provide the classification with a confidence score.`,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category":   map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"reasoning":  map[string]any{"type": "string"},
			},
			"required": []any{"category", "confidence"},
		},
	},

	"analyzeSentiment": {
		Name:         "analyzeSentiment",
		Description:  "Analyze the sentiment of text content",
		SystemPrompt: "You are a sentiment analysis assistant. Analyze the emotional tone and sentiment of the provided text.",
		UserPromptTemplate: `Analyze the sentiment of the following text:

{{text}}`,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sentiment": map[string]any{"type": "string", "enum": []any{"positive", "negative", "neutral", "mixed"}},
				"score":     map[string]any{"type": "number", "minimum": -1, "maximum": 1},
				"emotions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"emotion":   map[string]any{"type": "string"},
							"intensity": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						},
					},
				},
			},
			"required": []any{"sentiment", "score"},
		},
	},

	"generateResponse": {
		Name:         "generateResponse",
		Description:  "Generate a response based on context and instructions",
		SystemPrompt: "You are a professional assistant. Generate appropriate responses based on the provided context and instructions.",
		UserPromptTemplate: `{{instructions}}

Context:
{{context}}

Generate an appropriate response.`,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"response":    map[string]any{"type": "string"},
				"tone":        map[string]any{"type": "string"},
				"suggestions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"response"},
		},
	},
}

// GetTemplate looks up a built-in prompt template by name.
func GetTemplate(name string) (PromptTemplate, bool) {
	t, ok := promptTemplates[name]
	return t, ok
}

// TemplateNames returns the names of all built-in prompt templates.
func TemplateNames() []string {
	names := make([]string, 0, len(promptTemplates))
	for name := range promptTemplates {
		names = append(names, name)
	}
	return names
}

// BuildPrompt fills the named template's user prompt with variables.
func BuildPrompt(name string, variables map[string]any) (Prompt, error) {
	t, ok := GetTemplate(name)
	if !ok {
		return Prompt{}, fmt.Errorf("template %q not found", name)
	}
	return Prompt{
		System: t.SystemPrompt,
		User:   Replace(t.UserPromptTemplate, variables),
		Schema: t.Schema,
	}, nil
}
