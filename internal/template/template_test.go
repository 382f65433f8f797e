package template

import (
	"strings"
	"testing"
)

func TestReplaceScalars(t *testing.T) {
	got := Replace("Hello {{name}}, you are {{age}} years old", map[string]any{
		"name": "Ada",
		"age":  float64(36),
	})
	want := "Hello Ada, you are 36 years old"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestReplaceLeavesUnknownTokens(t *testing.T) {
	got := Replace("Hello {{name}}, {{missing}}!", map[string]any{"name": "Ada"})
	if got != "Hello Ada, {{missing}}!" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestReplaceUUIDKeys(t *testing.T) {
	got := Replace("Result: {{86996a49-360c-4f2b-accd-0ea1edcdbfff}}", map[string]any{
		"86996a49-360c-4f2b-accd-0ea1edcdbfff": "done",
	})
	if got != "Result: done" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestReplacePrettyPrintsObjects(t *testing.T) {
	got := Replace("Data:\n{{doc}}", map[string]any{
		"doc": map[string]any{"total": float64(42)},
	})
	if !strings.Contains(got, "\"total\": 42") {
		t.Fatalf("object not pretty-printed: %q", got)
	}
}

func TestReplaceParsesJSONStrings(t *testing.T) {
	got := Replace("{{doc}}", map[string]any{
		"doc": `{"invoice": "inv-1", "total": 99}`,
	})
	if !strings.Contains(got, "\"invoice\": \"inv-1\"") {
		t.Fatalf("JSON string not parsed and pretty-printed: %q", got)
	}

	// A string that merely looks like JSON stays a string.
	got = Replace("{{doc}}", map[string]any{"doc": "{not json"})
	if got != "{not json" {
		t.Fatalf("invalid JSON should stay verbatim: %q", got)
	}
}

func TestReplaceUnwrapsResultEnvelope(t *testing.T) {
	got := Replace("{{step-1}}", map[string]any{
		"step-1": map[string]any{
			"result": `{"category": "invoice"}`,
		},
	})
	if !strings.Contains(got, "\"category\": \"invoice\"") {
		t.Fatalf("result envelope not unwrapped: %q", got)
	}
	if strings.Contains(got, "result") {
		t.Fatalf("envelope key leaked into output: %q", got)
	}

	// A result that is not JSON leaves the envelope intact.
	got = Replace("{{step-1}}", map[string]any{
		"step-1": map[string]any{"result": "plain text"},
	})
	if !strings.Contains(got, "\"result\": \"plain text\"") {
		t.Fatalf("non-JSON result should keep envelope: %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	p, err := BuildPrompt("summarize", map[string]any{
		"style":   "bullet",
		"content": "a long report",
		"length":  float64(100),
	})
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}
	if p.System == "" {
		t.Fatal("system prompt missing")
	}
	if !strings.Contains(p.User, "bullet style") || !strings.Contains(p.User, "a long report") {
		t.Fatalf("variables not substituted: %q", p.User)
	}
	if !strings.Contains(p.User, "approximately 100 words") {
		t.Fatalf("length not substituted: %q", p.User)
	}
	if p.Schema["type"] != "object" {
		t.Fatalf("schema not attached: %v", p.Schema)
	}

	if _, err := BuildPrompt("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateCatalog(t *testing.T) {
	for _, name := range []string{"extractData", "summarize", "classify", "analyzeSentiment", "generateResponse"} {
		tpl, ok := GetTemplate(name)
		if !ok {
			t.Fatalf("template %q missing", name)
		}
		if tpl.SystemPrompt == "" || tpl.UserPromptTemplate == "" || tpl.Schema == nil {
			t.Fatalf("template %q incomplete: %+v", name, tpl)
		}
	}
	if len(TemplateNames()) != 5 {
		t.Fatalf("expected 5 templates, got %v", TemplateNames())
	}
}
