// Package notifier provides the transports that deliver alert messages.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type webhookPayload struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	HTML       bool     `json:"html"`
	Text       string   `json:"text"`
}

// Webhook posts messages as JSON to an HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *Webhook) {
		if client != nil {
			w.client = client
		}
	}
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("webhook notifier: empty url")
	}
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Send posts the message. The text field carries subject and body together
// for chat endpoints that only render one string.
func (w *Webhook) Send(ctx context.Context, recipients []string, subject, body string, isHTML bool) error {
	payload, err := json.Marshal(webhookPayload{
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		HTML:       isHTML,
		Text:       subject + "\n\n" + body,
	})
	if err != nil {
		return fmt.Errorf("webhook notifier: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook notifier: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notifier: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
