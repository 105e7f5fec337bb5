package filter

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

	"github.com/dukex/herald/pkg/models"
)

const (
	webhookAttempts    = 3
	webhookBaseBackoff = 50 * time.Millisecond
	webhookTimeout     = 10 * time.Second
)

// ErrWebhookStatus is returned when the webhook answers with a non-2xx
// status.
var ErrWebhookStatus = errors.New("webhook returned error status")

// WebhookClient queries condition webhooks. A request is retried twice after
// the initial attempt with a doubling backoff; a webhook that stays down
// fails the condition instead of the pipeline.
type WebhookClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	backoff    time.Duration
}

// NewWebhookClient creates a webhook client with the default timeout.
func NewWebhookClient(logger *slog.Logger) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: webhookTimeout},
		logger:     logger.With("module", "filter_webhook"),
		backoff:    webhookBaseBackoff,
	}
}

// WebhookRequest is the context posted to the webhook.
type WebhookRequest struct {
	Payload    map[string]any      `json:"payload,omitempty"`
	Subscriber *models.Subscriber  `json:"subscriber,omitempty"`
}

// Query posts the request context and returns the decoded response body.
func (c *WebhookClient) Query(ctx context.Context, url string, request WebhookRequest) (map[string]any, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook request: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			c.logger.InfoContext(ctx, "Retrying webhook", "url", url, "attempt", attempt)
			time.Sleep(c.backoff << (attempt - 2))
		}

		response, err := c.attempt(ctx, url, body)
		if err != nil {
			lastErr = err

			continue
		}

		return response, nil
	}

	return nil, fmt.Errorf("webhook failed after %d attempts: %w", webhookAttempts, lastErr)
}

func (c *WebhookClient) attempt(ctx context.Context, url string, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	result := make(map[string]any)

	err = json.Unmarshal(data, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}

	return result, nil
}
