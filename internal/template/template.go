// Package template implements {{placeholder}} substitution for prompts,
// email bodies, and webhook payloads, plus the built-in prompt template
// catalog.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Placeholder keys are word characters or dashes, which also covers UUID
// step ids like {{86996a49-360c-4f2b-accd-0ea1edcdbfff}}.
var placeholderRe = regexp.MustCompile(`\{\{([\w-]+)\}\}`)

// Replace substitutes {{key}} tokens in tpl with values from variables.
//
// Unknown keys are left verbatim so a half-filled template stays inspectable.
// String values that themselves hold JSON are parsed first, and any
// object-shaped value is pretty-printed; a {"result": "<json>"} wrapper (the
// shape AI steps produce) is unwrapped one level so prompts see the inner
// document rather than the envelope.
func Replace(tpl string, variables map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		key := match[2 : len(match)-2]
		value, ok := variables[key]
		if !ok {
			return match
		}

		if s, isString := value.(string); isString {
			trimmed := strings.TrimSpace(s)
			if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
				var parsed any
				if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
					value = parsed
				}
			}
		}

		switch v := value.(type) {
		case map[string]any:
			if inner, ok := v["result"].(string); ok {
				var parsed any
				if err := json.Unmarshal([]byte(inner), &parsed); err == nil {
					return prettyJSON(parsed)
				}
			}
			return prettyJSON(v)
		case []any:
			return prettyJSON(v)
		case nil:
			return match
		default:
			return stringify(v)
		}
	})
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// stringify formats scalars the way a JSON document would show them, so a
// float64 that arrived via JSON decoding renders as "42" rather than "4.2e+01".
func stringify(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
