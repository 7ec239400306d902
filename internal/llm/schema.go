package llm

// BuildEnvelopeSchema returns the JSON Schema (draft 2020-12 subset) of the model's reply envelope.
// Fields inside "data" are unconstrained here; they are coerced after validation.
func BuildEnvelopeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
			"error":   map[string]any{"type": []any{"string", "null"}},
			"data":    map[string]any{"type": []any{"object", "null"}},
		},
	}
}
