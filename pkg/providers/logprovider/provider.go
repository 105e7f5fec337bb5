// Package logprovider delivers messages to the process log. It backs any
// channel and is the default adapter for development environments.
package logprovider

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/providers"
)

const ProviderID = "log"

type Provider struct {
	logger  *slog.Logger
	channel models.ChannelType
}

// NewProvider creates a log provider bound to one channel.
func NewProvider(logger *slog.Logger, channel models.ChannelType) *Provider {
	return &Provider{
		logger:  logger.With("module", "log_provider", "channel", channel),
		channel: channel,
	}
}

func (p *Provider) ID() string {
	return ProviderID
}

func (p *Provider) Channel() models.ChannelType {
	return p.channel
}

func (p *Provider) Send(ctx context.Context, request providers.SendRequest) (*providers.SendResult, error) {
	p.logger.InfoContext(ctx, "Delivering message",
		"to", request.To,
		"subject", request.Subject,
		"content", request.Content)

	return &providers.SendResult{
		ID:   uuid.New().String(),
		Date: time.Now().UTC(),
	}, nil
}
