package llm

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// ParseResult is the tagged outcome of parsing a provider response.
// OK carries the normalized fields; a malformed response keeps the raw text
// so callers can flag the document for review instead of failing it.
type ParseResult struct {
	OK          bool
	Fields      DocumentFields
	Confidences map[string]float64
	Raw         json.RawMessage
	RawText     string // original provider text, kept on malformed responses
}

// ParseExtraction runs the two-stage parse: locate a candidate JSON span in
// the free-text response (fenced code block or first balanced object), then
// validate it against the document schema. It never returns an error; a
// response that survives neither stage comes back with OK=false.
func ParseExtraction(text string, logger *slog.Logger) ParseResult {
	if logger == nil {
		logger = slog.Default()
	}

	span, found := ExtractJSONObject(text)
	if !found {
		logger.Warn("llm.parse.no_json_span", "text_len", len(text))
		return ParseResult{RawText: text}
	}

	candidate := []byte(span)
	if err := ValidateDocumentJSON(candidate); err != nil {
		cleaned, sErr := sanitizeDocumentJSON(candidate)
		if sErr != nil {
			logger.Warn("llm.parse.sanitize_failed", "error", sErr)
			return ParseResult{RawText: text}
		}
		if vErr := ValidateDocumentJSON(cleaned); vErr != nil {
			logger.Warn("llm.parse.schema_validation_failed", "error", vErr)
			return ParseResult{RawText: text}
		}
		logger.Info("llm.parse.lenient_sanitize_applied")
		candidate = cleaned
	}

	var payload struct {
		DocumentFields
		ConfidenceScores map[string]float64 `json:"confidence_scores"`
	}
	if err := json.Unmarshal(candidate, &payload); err != nil {
		logger.Warn("llm.parse.unmarshal_failed", "error", err)
		return ParseResult{RawText: text}
	}

	scores := payload.ConfidenceScores
	if scores == nil {
		scores = map[string]float64{}
	}
	for k, v := range scores {
		scores[k] = clamp01(v)
	}

	return ParseResult{
		OK:          true,
		Fields:      payload.DocumentFields,
		Confidences: scores,
		Raw:         json.RawMessage(candidate),
		RawText:     text,
	}
}

// ExtractJSONObject locates the most plausible JSON object inside free text.
// A ```json fenced block wins; otherwise the first balanced {...} span is
// taken, with braces inside string literals ignored.
func ExtractJSONObject(text string) (string, bool) {
	if fenced, ok := extractFencedBlock(text); ok {
		if span, ok := balancedObject(fenced); ok {
			return span, true
		}
	}
	return balancedObject(text)
}

func extractFencedBlock(text string) (string, bool) {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		rest := text[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return rest[:end], true
	}
	return "", false
}

func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// sanitizeDocumentJSON drops unknown keys and null/empty optionals and
// coerces near-miss types so a slightly sloppy response can still validate.
// Only shape is repaired here; content rules stay with the field validator.
func sanitizeDocumentJSON(doc []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, err
	}

	stringKeys := []string{"name", "address", "postal_code", "city", "birthday", "date", "time", "stamp"}
	boolKeys := []string{"is_handwritten", "is_signed"}

	allowed := map[string]struct{}{"confidence_scores": {}}
	for _, k := range stringKeys {
		allowed[k] = struct{}{}
	}
	for _, k := range boolKeys {
		allowed[k] = struct{}{}
	}
	for k := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
		}
	}

	for _, k := range stringKeys {
		switch v := m[k].(type) {
		case nil:
			delete(m, k)
		case string:
			if strings.TrimSpace(v) == "" || strings.EqualFold(v, "null") {
				delete(m, k)
			} else {
				m[k] = strings.TrimSpace(v)
			}
		case float64, bool:
			// wrong shape for a text field, drop rather than guess
			delete(m, k)
		}
	}

	for _, k := range boolKeys {
		switch v := m[k].(type) {
		case nil:
			delete(m, k)
		case bool:
			// fine
		case string:
			s := strings.ToLower(strings.TrimSpace(v))
			if s == "true" || s == "yes" {
				m[k] = true
			} else if s == "false" || s == "no" {
				m[k] = false
			} else {
				delete(m, k)
			}
		default:
			delete(m, k)
		}
	}

	if cs, ok := m["confidence_scores"].(map[string]any); ok {
		for k, v := range cs {
			if f, ok := v.(float64); ok {
				cs[k] = clamp01(f)
			} else {
				delete(cs, k)
			}
		}
	} else if _, present := m["confidence_scores"]; present {
		delete(m, "confidence_scores")
	}

	return json.Marshal(m)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
