package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/internal/llm"
)

// Call implements llm.Client over an OpenAI-compatible chat/completions
// endpoint. The document payload is attached as a base64 data URL alongside
// the prompt. A 429 is surfaced as llm.RateLimitError with the server's
// Retry-After when present; all other non-2xx statuses are generic errors.
func (c *Client) Call(ctx context.Context, req llm.CallRequest) (*llm.CallResponse, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := c.modelFor(req.Tier)

	c.log.Info("llm.call.start",
		"req_id", rid,
		"model", model,
		"tier", string(req.Tier),
		"payload_bytes", len(req.Document),
		"filename", req.Filename,
	)

	userContent := []map[string]any{
		{"type": "text", "text": req.Prompt},
	}
	if len(req.Document) > 0 {
		userContent = append(userContent, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": dataURL(req.Document, req.Filename),
			},
		})
	}

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "user", "content": userContent},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("llm.call.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("no choices in provider response")
	}

	resp := &llm.CallResponse{Text: strings.TrimSpace(cc.Choices[0].Message.Content)}
	if cc.Usage != nil {
		resp.Usage = &llm.Usage{
			InputTokens:  cc.Usage.PromptTokens,
			OutputTokens: cc.Usage.CompletionTokens,
		}
	}

	c.log.Info("llm.call.ok",
		"req_id", rid,
		"model", model,
		"text_len", len(resp.Text),
		"has_usage", resp.Usage != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider http error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("provider response body close error", "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &llm.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    fmt.Sprintf("provider status 429: %s", truncate(string(raw), 200)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func dataURL(doc []byte, filename string) string {
	mt := "application/pdf"
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"):
		mt = "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		mt = "image/jpeg"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(doc)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
