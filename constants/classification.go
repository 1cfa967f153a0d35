package constants

import "strings"

// Classification is the coarse visual-content tag driving model routing.
type Classification string

const (
	Handwritten Classification = "HANDWRITTEN"
	Typed       Classification = "TYPED"
	Mixed       Classification = "MIXED"
	Scanned     Classification = "SCANNED"
)

var allClassifications = []Classification{Handwritten, Typed, Mixed, Scanned}

// ModelTier is one of two cost/quality levels of the extraction provider.
type ModelTier string

const (
	TierHigh ModelTier = "high" // more accurate, more expensive
	TierLow  ModelTier = "low"  // faster, cheaper
)

// CanonicalizeClassification maps free-form model output onto a known tag.
// Unknown or empty input falls back to TYPED, the cheapest safe default for
// parse-level noise; callers that need the fail-safe MIXED default handle
// call-level failures themselves.
func CanonicalizeClassification(input string) (Classification, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(input))
	for _, c := range allClassifications {
		if normalized == string(c) {
			return c, true
		}
	}
	return Typed, false
}

// StampValues is the closed vocabulary for the stamp field. Extracted stamp
// strings may combine several values, comma-separated.
var StampValues = []string{"APPROVED", "RECEIVED", "PAID", "COPY"}

// IsStampValue reports whether a single (already-trimmed) token is part of
// the stamp vocabulary.
func IsStampValue(s string) bool {
	for _, v := range StampValues {
		if s == v {
			return true
		}
	}
	return false
}
