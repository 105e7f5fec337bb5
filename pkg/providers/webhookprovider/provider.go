// Package webhookprovider posts messages to an HTTP endpoint. It serves chat
// channel targets (per-subscriber webhook URLs) and any integration whose
// credentials carry a webhook_url.
package webhookprovider

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

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/providers"
)

const (
	ProviderID     = "webhook"
	requestTimeout = 30 * time.Second
)

// ErrNoWebhookURL is returned when neither the target nor the integration
// credentials carry a destination URL.
var ErrNoWebhookURL = errors.New("no webhook url configured")

// ErrWebhookRejected is returned on a non-2xx response.
var ErrWebhookRejected = errors.New("webhook endpoint rejected message")

type Provider struct {
	logger     *slog.Logger
	channel    models.ChannelType
	httpClient *http.Client
}

// NewProvider creates a webhook provider bound to one channel.
func NewProvider(logger *slog.Logger, channel models.ChannelType) *Provider {
	return &Provider{
		logger:     logger.With("module", "webhook_provider", "channel", channel),
		channel:    channel,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (p *Provider) ID() string {
	return ProviderID
}

func (p *Provider) Channel() models.ChannelType {
	return p.channel
}

func (p *Provider) Send(ctx context.Context, request providers.SendRequest) (*providers.SendResult, error) {
	url := p.destination(request)
	if url == "" {
		return nil, ErrNoWebhookURL
	}

	body, err := json.Marshal(map[string]any{
		"to":      request.To,
		"subject": request.Subject,
		"content": request.Content,
		"title":   request.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)

		err := resp.Body.Close()
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode)
	}

	return &providers.SendResult{
		ID:   uuid.New().String(),
		Date: time.Now().UTC(),
	}, nil
}

func (p *Provider) destination(request providers.SendRequest) string {
	if request.Target != nil && request.Target.WebhookURL != "" {
		return request.Target.WebhookURL
	}

	return request.Credentials["webhook_url"]
}
