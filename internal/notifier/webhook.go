package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"logx-detector/internal/alerts"
)

// DefaultWebhookTimeout is the HTTP client timeout for webhook calls.
const DefaultWebhookTimeout = 10 * time.Second

// Webhook POSTs envelopes as JSON to a fixed URL. Any non-2xx response is an error.
type Webhook struct {
	url        string
	httpClient *http.Client
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook creates a webhook notifier. The URL must be absolute http or https.
func NewWebhook(rawURL string) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL: %q (must be a valid HTTP/HTTPS URL)", rawURL)
	}
	return &Webhook{
		url:        rawURL,
		httpClient: &http.Client{Timeout: DefaultWebhookTimeout},
	}, nil
}

// NotifyAlert posts a single alert.
func (w *Webhook) NotifyAlert(ctx context.Context, a *alerts.Alert) error {
	return w.post(ctx, alertEnvelope(a))
}

// NotifySummary posts a tenant summary.
func (w *Webhook) NotifySummary(ctx context.Context, s alerts.Summary) error {
	return w.post(ctx, summaryEnvelope(s))
}

func (w *Webhook) post(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook %s: %w", env.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
