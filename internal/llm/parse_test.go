package llm

import (
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"bare object", `{"name": "A"}`, `{"name": "A"}`, true},
		{"fenced block", "Here you go:\n```json\n{\"name\": \"A\"}\n```", `{"name": "A"}`, true},
		{"fence without language", "```\n{\"name\": \"A\"}\n```", `{"name": "A"}`, true},
		{"prose around object", `The extracted data is {"name": "A"} as requested.`, `{"name": "A"}`, true},
		{"brace inside string", `{"name": "curly } brace"}`, `{"name": "curly } brace"}`, true},
		{"nested objects", `{"confidence_scores": {"name": 0.9}}`, `{"confidence_scores": {"name": 0.9}}`, true},
		{"no object", "I could not read the document.", "", false},
		{"unbalanced", `{"name": "A"`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("span = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseExtractionCleanResponse(t *testing.T) {
	res := ParseExtraction(`{
		"name": "Erika Mustermann",
		"postal_code": "10115",
		"is_signed": true,
		"confidence_scores": {"name": 0.95, "postal_code": 0.9}
	}`, nil)

	if !res.OK {
		t.Fatalf("OK = false, raw: %s", res.RawText)
	}
	if res.Fields.Name == nil || *res.Fields.Name != "Erika Mustermann" {
		t.Errorf("Name = %v", res.Fields.Name)
	}
	if res.Fields.IsSigned == nil || !*res.Fields.IsSigned {
		t.Errorf("IsSigned = %v", res.Fields.IsSigned)
	}
	if res.Confidences["name"] != 0.95 {
		t.Errorf("confidence = %v", res.Confidences["name"])
	}
}

func TestParseExtractionSanitizesSloppyResponse(t *testing.T) {
	res := ParseExtraction(`{
		"name": "  Erika  ",
		"city": null,
		"is_handwritten": "yes",
		"extra_commentary": "the model likes to chat",
		"confidence_scores": {"name": 1.4, "city": "high"}
	}`, nil)

	if !res.OK {
		t.Fatalf("sanitize did not rescue the response, raw: %s", res.RawText)
	}
	if res.Fields.Name == nil || *res.Fields.Name != "Erika" {
		t.Errorf("Name = %v, want trimmed", res.Fields.Name)
	}
	if res.Fields.City != nil {
		t.Errorf("City = %v, want nulls dropped", res.Fields.City)
	}
	if res.Fields.IsHandwritten == nil || !*res.Fields.IsHandwritten {
		t.Errorf("IsHandwritten = %v, want coerced true", res.Fields.IsHandwritten)
	}
	if res.Confidences["name"] != 1 {
		t.Errorf("confidence = %v, want clamped to 1", res.Confidences["name"])
	}
	if _, ok := res.Confidences["city"]; ok {
		t.Error("non-numeric confidence survived sanitize")
	}
}

func TestParseExtractionMalformedKeepsRawText(t *testing.T) {
	text := "I'm sorry, the scan is unreadable."
	res := ParseExtraction(text, nil)

	if res.OK {
		t.Fatal("OK = true for a response with no JSON")
	}
	if res.RawText != text {
		t.Errorf("RawText = %q, want the original response kept", res.RawText)
	}
}

func TestParseExtractionEmptyScoresDefaultToEmptyMap(t *testing.T) {
	res := ParseExtraction(`{"name": "A"}`, nil)
	if !res.OK {
		t.Fatal("OK = false")
	}
	if res.Confidences == nil {
		t.Fatal("Confidences must never be nil on a successful parse")
	}
}

func TestSelectPrompt(t *testing.T) {
	combos := map[[2]bool]string{}
	for _, hw := range []bool{false, true} {
		for _, mp := range []bool{false, true} {
			p := SelectPrompt(hw, mp)
			if p == "" {
				t.Fatalf("empty prompt for handwritten=%v multipage=%v", hw, mp)
			}
			combos[[2]bool{hw, mp}] = p
		}
	}
	seen := map[string]bool{}
	for _, p := range combos {
		if seen[p] {
			t.Fatal("two prompt variants are identical")
		}
		seen[p] = true
	}
}
