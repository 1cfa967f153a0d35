package llm

import "testing"

func TestValidateDocumentJSON(t *testing.T) {
	if err := ValidateDocumentJSON([]byte(`{"name": "Erika", "is_signed": true, "confidence_scores": {"name": 0.9}}`)); err != nil {
		t.Errorf("well-formed payload rejected: %v", err)
	}
	if err := ValidateDocumentJSON([]byte(`{"name": "Erika", "extra_commentary": "ok"}`)); err == nil {
		t.Error("unknown key accepted")
	}
	if err := ValidateDocumentJSON([]byte(`{"is_signed": "yes"}`)); err == nil {
		t.Error("string accepted for a boolean field")
	}
}

func TestValidateClassificationJSON(t *testing.T) {
	if err := ValidateClassificationJSON([]byte(`{"type": "TYPED", "confidence": 0.8, "reasoning": "clean print"}`)); err != nil {
		t.Errorf("well-formed payload rejected: %v", err)
	}
	if err := ValidateClassificationJSON([]byte(`{"confidence": 0.8}`)); err == nil {
		t.Error("payload without the required type accepted")
	}
	if err := ValidateClassificationJSON([]byte(`{"type": "TYPED", "confidence": "very sure"}`)); err == nil {
		t.Error("string confidence accepted")
	}
}
