// Package subscribers resolves trigger recipients into persisted subscriber
// records.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

// ErrMissingSubscriberID is returned when a recipient carries no subscriber
// id. It is a validation error: the trigger is rejected before any job
// chain is created.
var ErrMissingSubscriberID = errors.New("recipient is missing subscriber_id")

// TopicPrefix marks a string recipient as a topic address; the trigger fans
// out to every subscriber whose topics include the named one.
const TopicPrefix = "topic:"

// Resolver deduplicates trigger recipients and upserts their profiles.
type Resolver struct {
	logger      *slog.Logger
	subscribers persistence.SubscriberRepository
}

// NewResolver creates a recipient resolver.
func NewResolver(logger *slog.Logger, subscribers persistence.SubscriberRepository) *Resolver {
	return &Resolver{
		logger:      logger.With("module", "subscribers"),
		subscribers: subscribers,
	}
}

// Dedupe collapses recipients by subscriber id, keeping the richest form
// seen: later non-empty fields win, empty fields never erase. Order of first
// appearance is preserved.
func Dedupe(recipients []*models.SubscriberDefine) ([]*models.SubscriberDefine, error) {
	byID := make(map[string]*models.SubscriberDefine, len(recipients))
	order := make([]*models.SubscriberDefine, 0, len(recipients))

	for _, recipient := range recipients {
		if recipient == nil || recipient.SubscriberID == "" {
			return nil, ErrMissingSubscriberID
		}

		existing, seen := byID[recipient.SubscriberID]
		if !seen {
			merged := *recipient
			byID[recipient.SubscriberID] = &merged
			order = append(order, &merged)

			continue
		}

		existing.Merge(recipient)
	}

	return order, nil
}

// Resolve deduplicates recipients and upserts each one: unknown subscribers
// are created, known ones get the non-destructive field merge. The returned
// subscribers are the persisted records, in recipient order.
func (r *Resolver) Resolve(ctx context.Context, environmentID string, recipients []*models.SubscriberDefine) ([]*models.Subscriber, error) {
	expanded, err := r.expandTopics(ctx, environmentID, recipients)
	if err != nil {
		return nil, err
	}

	deduped, err := Dedupe(expanded)
	if err != nil {
		return nil, err
	}

	resolved := make([]*models.Subscriber, 0, len(deduped))

	for _, define := range deduped {
		subscriber, err := r.upsert(ctx, environmentID, define)
		if err != nil {
			return nil, err
		}

		resolved = append(resolved, subscriber)
	}

	return resolved, nil
}

// expandTopics replaces topic recipients with the topic's current members.
// A topic with no members contributes nothing; direct recipients pass
// through untouched.
func (r *Resolver) expandTopics(ctx context.Context, environmentID string, recipients []*models.SubscriberDefine) ([]*models.SubscriberDefine, error) {
	expanded := make([]*models.SubscriberDefine, 0, len(recipients))

	for _, recipient := range recipients {
		if recipient == nil || !strings.HasPrefix(recipient.SubscriberID, TopicPrefix) {
			expanded = append(expanded, recipient)

			continue
		}

		topic := strings.TrimPrefix(recipient.SubscriberID, TopicPrefix)

		members, err := r.subscribers.ListByTopic(ctx, environmentID, topic)
		if err != nil {
			return nil, fmt.Errorf("failed to list topic %s members: %w", topic, err)
		}

		r.logger.DebugContext(ctx, "Expanded topic recipient", "topic", topic, "members", len(members))

		for _, member := range members {
			expanded = append(expanded, &models.SubscriberDefine{SubscriberID: member.SubscriberID})
		}
	}

	return expanded, nil
}

func (r *Resolver) upsert(ctx context.Context, environmentID string, define *models.SubscriberDefine) (*models.Subscriber, error) {
	subscriber, err := r.subscribers.GetBySubscriberID(ctx, environmentID, define.SubscriberID)
	if err != nil {
		if !persistence.IsSubscriberNotFound(err) {
			return nil, fmt.Errorf("failed to load subscriber %s: %w", define.SubscriberID, err)
		}

		subscriber = &models.Subscriber{
			EnvironmentID: environmentID,
			SubscriberID:  define.SubscriberID,
		}
		define.Apply(subscriber)

		err = r.subscribers.Create(ctx, subscriber)
		if err != nil {
			return nil, fmt.Errorf("failed to create subscriber %s: %w", define.SubscriberID, err)
		}

		r.logger.DebugContext(ctx, "Created subscriber", "subscriber_id", define.SubscriberID)

		return subscriber, nil
	}

	define.Apply(subscriber)

	err = r.subscribers.Update(ctx, subscriber)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscriber %s: %w", define.SubscriberID, err)
	}

	return subscriber, nil
}
