// Package webhook delivers best-effort status notifications. Delivery is
// fire-and-forget and never blocks or fails the pipeline.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Notifier posts events to a single configured endpoint. A Notifier with an
// empty URL is valid and drops every event.
type Notifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewNotifier(url string, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

// Notify dispatches the event on a separate goroutine and returns
// immediately. Failures are logged and forgotten.
func (n *Notifier) Notify(event string, payload any) {
	if n == nil || n.url == "" {
		return
	}
	go n.deliver(event, payload)
}

func (n *Notifier) deliver(event string, payload any) {
	body, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.log.Warn("webhook.encode_failed", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("webhook.build_request_failed", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("webhook.delivery_failed", "event", event, "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		n.log.Warn("webhook.rejected", "event", event, "status", resp.StatusCode)
	}
}
