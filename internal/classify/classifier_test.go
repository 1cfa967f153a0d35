package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/llm"
	"github.com/mgebhardt/docintake/internal/ratelimit"
)

type stubProvider struct {
	text string
	err  error
	req  llm.CallRequest
}

func (s *stubProvider) Call(_ context.Context, req llm.CallRequest) (*llm.CallResponse, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CallResponse{Text: s.text}, nil
}

func TestRouteModel(t *testing.T) {
	tests := []struct {
		classification constants.Classification
		want           constants.ModelTier
	}{
		{constants.Typed, constants.TierLow},
		{constants.Handwritten, constants.TierHigh},
		{constants.Mixed, constants.TierHigh},
		{constants.Scanned, constants.TierHigh},
	}
	for _, tt := range tests {
		if got := RouteModel(tt.classification); got != tt.want {
			t.Errorf("RouteModel(%s) = %s, want %s", tt.classification, got, tt.want)
		}
	}
}

func TestClassifyParsesResponse(t *testing.T) {
	provider := &stubProvider{text: `{"type": "HANDWRITTEN", "confidence": 0.92, "reasoning": "cursive throughout"}`}
	c := New(provider, ratelimit.New(ratelimit.Config{}, nil), nil)

	res := c.Classify(context.Background(), []byte("pdf"), "note.pdf")
	if res.Type != constants.Handwritten {
		t.Errorf("Type = %s, want HANDWRITTEN", res.Type)
	}
	if res.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", res.Confidence)
	}
	if res.RecommendedModel != constants.TierHigh {
		t.Errorf("RecommendedModel = %s, want high", res.RecommendedModel)
	}
	if provider.req.Tier != constants.TierLow {
		t.Errorf("classification call used tier %s, want the fast tier", provider.req.Tier)
	}
}

func TestClassifyFailureFallsBackToMixedHigh(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection reset")}
	c := New(provider, ratelimit.New(ratelimit.Config{}, nil), nil)

	res := c.Classify(context.Background(), []byte("pdf"), "note.pdf")
	if res.Type != constants.Mixed {
		t.Errorf("Type = %s, want MIXED fail-safe", res.Type)
	}
	if res.RecommendedModel != constants.TierHigh {
		t.Errorf("RecommendedModel = %s, want high fail-safe", res.RecommendedModel)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", res.Confidence)
	}
}

func TestClassifyGarbageResponseFallsBack(t *testing.T) {
	provider := &stubProvider{text: "I could not inspect the document, sorry."}
	c := New(provider, ratelimit.New(ratelimit.Config{}, nil), nil)

	res := c.Classify(context.Background(), []byte("pdf"), "note.pdf")
	if res.Type != constants.Mixed || res.RecommendedModel != constants.TierHigh {
		t.Errorf("garbage response routed to %s/%s, want MIXED/high", res.Type, res.RecommendedModel)
	}
}

func TestClassifySchemaRejectedFallsBack(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing type", `{"confidence": 0.9, "reasoning": "looks printed"}`},
		{"confidence wrong shape", `{"type": "TYPED", "confidence": "very sure"}`},
		{"unexpected key", `{"type": "TYPED", "verdict": "final"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{text: tt.text}
			c := New(provider, ratelimit.New(ratelimit.Config{}, nil), nil)

			res := c.Classify(context.Background(), []byte("pdf"), "note.pdf")
			if res.Type != constants.Mixed || res.RecommendedModel != constants.TierHigh {
				t.Errorf("routed to %s/%s, want MIXED/high fail-safe", res.Type, res.RecommendedModel)
			}
		})
	}
}

func TestClassifyUnknownTypeCanonicalizes(t *testing.T) {
	provider := &stubProvider{text: `{"type": "photocopy", "confidence": 0.8}`}
	c := New(provider, ratelimit.New(ratelimit.Config{}, nil), nil)

	res := c.Classify(context.Background(), []byte("pdf"), "note.pdf")
	if res.Type != constants.Typed {
		t.Errorf("unknown type canonicalized to %s, want TYPED", res.Type)
	}
}

func TestClassifyClampsConfidence(t *testing.T) {
	provider := &stubProvider{text: `{"type": "TYPED", "confidence": 1.7}`}
	c := New(provider, ratelimit.New(ratelimit.Config{}, nil), nil)

	res := c.Classify(context.Background(), []byte("pdf"), "note.pdf")
	if res.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", res.Confidence)
	}
}

func TestQuickClassifyFromText(t *testing.T) {
	dense := strings.Repeat("the quarterly report shows steady growth in all regions ", 20)
	if got, ok := QuickClassifyFromText(dense); !ok || got != constants.Typed {
		t.Errorf("dense text = (%s, %v), want (TYPED, true)", got, ok)
	}

	inconclusive := []struct {
		name string
		text string
	}{
		{"too short", "hello world"},
		{"empty", ""},
		{"noisy", strings.Repeat("@#$ %^& *() 123!@# ~~~ ||| ", 40)},
	}
	for _, tt := range inconclusive {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := QuickClassifyFromText(tt.text); ok {
				t.Error("expected inconclusive")
			}
		})
	}
}
