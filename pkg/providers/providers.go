// Package providers defines the adapter contract between channel dispatch
// and concrete delivery services, plus the registry that binds them.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/herald/pkg/models"
)

// ErrProviderNotRegistered is returned when no adapter serves a
// (channel, provider id) pair.
var ErrProviderNotRegistered = errors.New("provider not registered")

// SendRequest carries the resolved addressing and rendered content for one
// provider call.
type SendRequest struct {
	To      string
	Subject string
	Content string
	Title   string

	// Credentials come from the active integration.
	Credentials map[string]string
	// Target is set for subscriber-bound channels (chat webhook, push
	// device tokens).
	Target *models.ChannelCredentials

	Overrides map[string]any
}

// SendResult is the provider's acknowledgement of one delivery.
type SendResult struct {
	ID   string
	Date time.Time
}

// SendHandler is the uniform adapter every provider implements. A send error
// never propagates past the dispatch boundary; the dispatcher converts it to
// a message error state.
type SendHandler interface {
	ID() string
	Channel() models.ChannelType
	Send(ctx context.Context, request SendRequest) (*SendResult, error)
}

// Registry binds send handlers by (channel, provider id).
type Registry struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	handlers map[models.ChannelType]map[string]SendHandler
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("module", "providers"),
		handlers: make(map[models.ChannelType]map[string]SendHandler),
	}
}

// Register binds a handler. A later registration for the same pair replaces
// the earlier one.
func (r *Registry) Register(handler SendHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel := handler.Channel()
	if r.handlers[channel] == nil {
		r.handlers[channel] = make(map[string]SendHandler)
	}

	r.handlers[channel][handler.ID()] = handler
	r.logger.Debug("Registered provider", "channel", channel, "provider_id", handler.ID())
}

// Resolve returns the handler for a (channel, provider id) pair.
func (r *Registry) Resolve(channel models.ChannelType, providerID string) (SendHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[channel][providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrProviderNotRegistered, channel, providerID)
	}

	return handler, nil
}
