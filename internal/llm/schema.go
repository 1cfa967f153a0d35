package llm

// BuildDocumentJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. It is passed to the provider as a structured-output hint and
// used locally to validate candidate responses. Format violations (wrong date
// separator, short postal code) are deliberately NOT encoded here: they must
// surface as review notes, not as parse failures.
func BuildDocumentJSONSchema() map[string]any {
	props := map[string]any{
		"name":           map[string]any{"type": "string"},
		"address":        map[string]any{"type": "string"},
		"postal_code":    map[string]any{"type": "string"},
		"city":           map[string]any{"type": "string"},
		"birthday":       map[string]any{"type": "string"},
		"date":           map[string]any{"type": "string"},
		"time":           map[string]any{"type": "string"},
		"is_handwritten": map[string]any{"type": "boolean"},
		"is_signed":      map[string]any{"type": "boolean"},
		"stamp":          map[string]any{"type": "string"},
		"confidence_scores": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "number"},
		},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

// BuildClassificationJSONSchema constrains the classification response.
func BuildClassificationJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"type":       map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
			"reasoning":  map[string]any{"type": "string"},
		},
		"required": []string{"type"},
	}
}
