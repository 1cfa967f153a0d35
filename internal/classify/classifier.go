// Package classify maps a document sample to a visual-content tag and a
// recommended model tier via one lightweight call to the extraction provider.
package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/llm"
	"github.com/mgebhardt/docintake/internal/ratelimit"
)

// Result is the classification outcome. It is always usable: failures fall
// back to MIXED on the high tier so extraction never silently degrades to
// the cheap path.
type Result struct {
	Type             constants.Classification
	Confidence       float64
	RecommendedModel constants.ModelTier
	Reasoning        string
}

// RouteModel is the deterministic routing policy. Only clean typed text is
// safe on the fast tier; everything ambiguous buys accuracy with cost.
func RouteModel(t constants.Classification) constants.ModelTier {
	if t == constants.Typed {
		return constants.TierLow
	}
	return constants.TierHigh
}

// fallback is used whenever the call or parse fails.
func fallback() Result {
	return Result{
		Type:             constants.Mixed,
		Confidence:       0.5,
		RecommendedModel: constants.TierHigh,
	}
}

type Classifier struct {
	provider llm.Client
	limiter  *ratelimit.Limiter
	log      *slog.Logger
}

func New(provider llm.Client, limiter *ratelimit.Limiter, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, limiter: limiter, log: logger}
}

// Classify sends the document sample through the rate limiter on the fast
// tier and parses {type, confidence, reasoning} out of the response. It never
// returns an error; any failure yields the fail-safe default.
func (c *Classifier) Classify(ctx context.Context, sample []byte, filename string) Result {
	var resp *llm.CallResponse
	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.provider.Call(ctx, llm.CallRequest{
			Prompt:   llm.ClassificationPrompt(),
			Document: sample,
			Filename: filename,
			Tier:     constants.TierLow,
		})
		return callErr
	})
	if err != nil {
		c.log.Warn("classify.call_failed", "filename", filename, "error", err)
		return fallback()
	}

	span, ok := llm.ExtractJSONObject(resp.Text)
	if !ok {
		c.log.Warn("classify.no_json", "filename", filename, "text_len", len(resp.Text))
		return fallback()
	}
	if err := llm.ValidateClassificationJSON([]byte(span)); err != nil {
		c.log.Warn("classify.schema_rejected", "filename", filename, "error", err)
		return fallback()
	}

	var payload struct {
		Type       string          `json:"type"`
		Confidence json.RawMessage `json:"confidence"`
		Reasoning  string          `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		c.log.Warn("classify.parse_failed", "filename", filename, "error", err)
		return fallback()
	}

	tag, known := constants.CanonicalizeClassification(payload.Type)
	if !known {
		c.log.Warn("classify.unknown_type", "filename", filename, "type", payload.Type)
	}

	confidence := 0.5
	var f float64
	if err := json.Unmarshal(payload.Confidence, &f); err == nil {
		confidence = clamp01(f)
	}

	result := Result{
		Type:             tag,
		Confidence:       confidence,
		RecommendedModel: RouteModel(tag),
		Reasoning:        payload.Reasoning,
	}
	c.log.Info("classify.ok",
		"filename", filename,
		"type", string(result.Type),
		"confidence", result.Confidence,
		"model", string(result.RecommendedModel),
	)
	return result
}

// QuickClassifyFromText is a zero-cost pre-classification hint. It returns
// TYPED when the text is long, lexically dense, and has consistent word
// lengths; otherwise ok=false means "inconclusive, call the model".
func QuickClassifyFromText(text string) (constants.Classification, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 400 {
		return "", false
	}

	words := strings.Fields(trimmed)
	if len(words) < 80 {
		return "", false
	}

	var letters, total int
	for _, r := range trimmed {
		if !unicode.IsSpace(r) {
			total++
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				letters++
			}
		}
	}
	if total == 0 || float64(letters)/float64(total) < 0.8 {
		return "", false
	}

	var sum, sumSq float64
	for _, w := range words {
		n := float64(len([]rune(w)))
		sum += n
		sumSq += n * n
	}
	mean := sum / float64(len(words))
	variance := sumSq/float64(len(words)) - mean*mean
	if mean < 3 || mean > 10 || variance > 16 {
		return "", false
	}

	return constants.Typed, true
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
