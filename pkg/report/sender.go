package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a notification is dropped by the limiter
var ErrRateLimited = errors.New("notification rate limit exceeded")

// Sender delivers a notification for a report
type Sender interface {
	Send(ctx context.Context, r *Report) error
}

// WebhookConfig configures a WebhookSender
type WebhookConfig struct {
	URL string

	// Timeout bounds one request (default 10s)
	Timeout time.Duration

	// RateLimit is sustained notifications per second; zero disables limiting
	RateLimit float64

	// Burst is the limiter bucket size (default 1)
	Burst int

	Logger *slog.Logger
}

// WebhookSender posts reports as JSON to a URL
type WebhookSender struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// WebhookPayload is the JSON body posted by WebhookSender
type WebhookPayload struct {
	Text   string  `json:"text"`
	Report *Report `json:"report"`
}

// NewWebhookSender creates a webhook sender
func NewWebhookSender(cfg WebhookConfig) (*WebhookSender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "webhook")
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	return &WebhookSender{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  cfg.Logger,
	}, nil
}

// Send posts r to the webhook. Notifications over the rate limit are
// rejected with ErrRateLimited rather than queued.
func (w *WebhookSender) Send(ctx context.Context, r *Report) error {
	if w.limiter != nil && !w.limiter.Allow() {
		return ErrRateLimited
	}

	body, err := json.Marshal(WebhookPayload{Text: r.FormatSummary(), Report: r})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	w.logger.Debug("notification_sent",
		"trace_id", r.TraceID,
		"kind", r.Kind,
		"repeat_count", r.RepeatCount,
	)
	return nil
}
