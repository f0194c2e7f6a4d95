// Package notify posts short status messages to a chat webhook.
//
// Delivery is a single synchronous attempt. Callers treat failures as
// non-fatal and only log them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds one webhook delivery.
const DefaultTimeout = 10 * time.Second

// maxResponseBody caps how much of a webhook response is read for logging.
const maxResponseBody = 1024

// Message is the JSON body posted to the webhook.
type Message struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// Notifier delivers messages to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	// URL is the incoming webhook endpoint (required, http or https).
	URL string

	// HTTPClient is used for delivery (default: client with DefaultTimeout).
	HTTPClient *http.Client

	// Logger for delivery diagnostics (default: slog.Default()).
	Logger *slog.Logger
}

// Webhook posts messages as JSON to a fixed URL.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// Compile-time interface check
var _ Notifier = (*Webhook)(nil)

// NewWebhook validates cfg and creates a Webhook.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook URL must be an absolute http(s) URL")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Webhook{url: u.String(), httpClient: httpClient, logger: logger}, nil
}

// Notify posts msg. Any non-2xx response is an error.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	if msg.Text == "" {
		return fmt.Errorf("message text is required")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Debug("Webhook rejected message",
			"status", resp.StatusCode,
			"response", string(respBody),
			"duration", time.Since(start))
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Debug("Webhook delivered", "status", resp.StatusCode, "duration", time.Since(start))
	return nil
}
