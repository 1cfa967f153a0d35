package extract

import (
	"strings"
	"testing"

	"github.com/mgebhardt/docintake/internal/llm"
)

func strPtr(s string) *string { return &s }

func TestValidateFieldsAccepts(t *testing.T) {
	fields := llm.DocumentFields{
		Name:       strPtr("Erika Mustermann"),
		PostalCode: strPtr("10115"),
		Birthday:   strPtr("24.12.1984"),
		Date:       strPtr("01.06.2025"),
		Time:       strPtr("14:30"),
		Stamp:      strPtr("APPROVED, PAID"),
	}
	if issues := ValidateFields(fields); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestValidateFieldsRejects(t *testing.T) {
	tests := []struct {
		name   string
		fields llm.DocumentFields
		want   string
	}{
		{"short postal code", llm.DocumentFields{PostalCode: strPtr("1234")}, "postal code"},
		{"long postal code", llm.DocumentFields{PostalCode: strPtr("101155")}, "postal code"},
		{"iso date", llm.DocumentFields{Date: strPtr("2024-01-01")}, "DD.MM.YYYY"},
		{"iso birthday", llm.DocumentFields{Birthday: strPtr("1984/12/24")}, "DD.MM.YYYY"},
		{"bad time", llm.DocumentFields{Time: strPtr("25:00")}, "HH:MM"},
		{"time with seconds", llm.DocumentFields{Time: strPtr("14:30:00")}, "HH:MM"},
		{"unknown stamp", llm.DocumentFields{Stamp: strPtr("URGENT")}, "stamp value"},
		{"stamp with bad token", llm.DocumentFields{Stamp: strPtr("APPROVED, URGENT")}, "stamp value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := ValidateFields(tt.fields)
			if len(issues) == 0 {
				t.Fatal("expected a validation issue")
			}
			if !strings.Contains(issues[0], tt.want) {
				t.Fatalf("issue %q does not mention %q", issues[0], tt.want)
			}
		})
	}
}

func TestValidateFieldsNilsAreFine(t *testing.T) {
	if issues := ValidateFields(llm.DocumentFields{}); len(issues) != 0 {
		t.Fatalf("empty fields produced issues: %v", issues)
	}
}

func TestOverallConfidence(t *testing.T) {
	if got := OverallConfidence(nil); got != 0.5 {
		t.Errorf("no scores: got %v, want the 0.5 default", got)
	}
	got := OverallConfidence(map[string]float64{"name": 0.8, "date": 0.6})
	if got != 0.7 {
		t.Errorf("mean = %v, want 0.7", got)
	}
}

func TestNeedsReviewThreshold(t *testing.T) {
	if NeedsReview(nil, map[string]float64{"name": 0.70}) {
		t.Error("score at exactly 0.70 must not flag review")
	}
	if !NeedsReview(nil, map[string]float64{"name": 0.69}) {
		t.Error("score at 0.69 must flag review")
	}
	if !NeedsReview([]string{"postal code \"1234\" must be exactly 5 digits"}, map[string]float64{"name": 0.99}) {
		t.Error("validation issues must flag review regardless of scores")
	}
	if NeedsReview(nil, nil) {
		t.Error("no issues and no scores must not flag review")
	}
}
