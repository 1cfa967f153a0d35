package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mgebhardt/docintake/constants"
)

// DocumentFields is the normalized shape we want from the extraction model.
// Every field is optional; absent means the document did not contain it.
type DocumentFields struct {
	Name          *string `json:"name,omitempty"`
	Address       *string `json:"address,omitempty"`
	PostalCode    *string `json:"postal_code,omitempty"`
	City          *string `json:"city,omitempty"`
	Birthday      *string `json:"birthday,omitempty"` // DD.MM.YYYY
	Date          *string `json:"date,omitempty"`     // DD.MM.YYYY
	Time          *string `json:"time,omitempty"`     // HH:MM
	IsHandwritten *bool   `json:"is_handwritten,omitempty"`
	IsSigned      *bool   `json:"is_signed,omitempty"`
	Stamp         *string `json:"stamp,omitempty"` // comma-separated stamp vocabulary
}

// CallRequest is one request against the extraction provider.
type CallRequest struct {
	Prompt   string
	Document []byte // raw PDF bytes, attached as a data URL
	Filename string
	Tier     constants.ModelTier
}

// Usage is the token accounting the provider returns alongside a response.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CallResponse carries the free-text model output plus optional usage counts.
type CallResponse struct {
	Text  string
	Usage *Usage
}

// Client is the opaque remote extraction provider the pipeline depends on.
type Client interface {
	Call(ctx context.Context, req CallRequest) (*CallResponse, error)
}

// RateLimitError signals provider throttling, optionally carrying the
// server-advertised retry-after.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the provider gave none
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "provider rate limited"
}

// AsRateLimit reports whether err is a throttling signal, either typed or
// recognizable from its message (HTTP 429, "rate limit"). The returned
// duration is the provider-supplied retry-after, zero if absent.
func AsRateLimit(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return 0, true
	}
	return 0, false
}
