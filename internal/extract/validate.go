package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/llm"
)

// ReviewConfidenceThreshold is the per-field trust floor. Any score strictly
// below it flags the document for human review.
const ReviewConfidenceThreshold = 0.7

var (
	reDate   = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
	rePostal = regexp.MustCompile(`^\d{5}$`)
	reTime   = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// ValidateFields checks extracted values against the intake format rules and
// returns one human-readable issue per violation. Violations never abort the
// pipeline; they accumulate as review notes.
func ValidateFields(f llm.DocumentFields) []string {
	var issues []string

	checkDate := func(name string, v *string) {
		if v != nil && !reDate.MatchString(*v) {
			issues = append(issues, fmt.Sprintf("%s %q does not match DD.MM.YYYY", name, *v))
		}
	}
	checkDate("birthday", f.Birthday)
	checkDate("date", f.Date)

	if f.PostalCode != nil && !rePostal.MatchString(*f.PostalCode) {
		issues = append(issues, fmt.Sprintf("postal code %q must be exactly 5 digits", *f.PostalCode))
	}
	if f.Time != nil && !reTime.MatchString(*f.Time) {
		issues = append(issues, fmt.Sprintf("time %q does not match HH:MM", *f.Time))
	}
	if f.Stamp != nil {
		for _, token := range strings.Split(*f.Stamp, ",") {
			token = strings.TrimSpace(token)
			if token == "" || !constants.IsStampValue(token) {
				issues = append(issues, fmt.Sprintf("stamp value %q is not one of %s",
					token, strings.Join(constants.StampValues, ", ")))
			}
		}
	}
	return issues
}

// OverallConfidence is the arithmetic mean of the present scores, 0.5 when
// none were reported.
func OverallConfidence(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0.5
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}

// NeedsReview decides the human-correction flag: any validation issue, or
// any individual score under the trust threshold.
func NeedsReview(issues []string, scores map[string]float64) bool {
	if len(issues) > 0 {
		return true
	}
	for _, v := range scores {
		if v < ReviewConfidenceThreshold {
			return true
		}
	}
	return false
}
