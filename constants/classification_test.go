package constants

import "testing"

func TestCanonicalizeClassification(t *testing.T) {
	tests := []struct {
		input string
		want  Classification
		known bool
	}{
		{"HANDWRITTEN", Handwritten, true},
		{"typed", Typed, true},
		{"  Mixed  ", Mixed, true},
		{"scanned", Scanned, true},
		{"photocopy", Typed, false},
		{"", Typed, false},
	}
	for _, tt := range tests {
		got, known := CanonicalizeClassification(tt.input)
		if got != tt.want || known != tt.known {
			t.Errorf("CanonicalizeClassification(%q) = (%s, %v), want (%s, %v)",
				tt.input, got, known, tt.want, tt.known)
		}
	}
}

func TestIsStampValue(t *testing.T) {
	for _, v := range StampValues {
		if !IsStampValue(v) {
			t.Errorf("IsStampValue(%q) = false", v)
		}
	}
	for _, v := range []string{"", "approved", "URGENT"} {
		if IsStampValue(v) {
			t.Errorf("IsStampValue(%q) = true", v)
		}
	}
}

func TestDocumentStatusTerminal(t *testing.T) {
	terminal := map[DocumentStatus]bool{
		DocStatusPending:        false,
		DocStatusQueuedForBatch: false,
		DocStatusPreprocessing:  false,
		DocStatusClassifying:    false,
		DocStatusExtracting:     false,
		DocStatusCompleted:      true,
		DocStatusFailed:         true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
