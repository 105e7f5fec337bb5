package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

type SubscriberRepository struct {
	store *Persistence
	items map[string]string // environmentID/subscriberID -> encoded subscriber
}

func subscriberKey(environmentID, subscriberID string) string {
	return environmentID + "/" + subscriberID
}

func (r *SubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if subscriber.ID == "" {
		subscriber.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	subscriber.CreatedAt = now
	subscriber.UpdatedAt = now

	raw, err := encode(subscriber)
	if err != nil {
		return err
	}

	r.items[subscriberKey(subscriber.EnvironmentID, subscriber.SubscriberID)] = raw

	return nil
}

func (r *SubscriberRepository) Update(ctx context.Context, subscriber *models.Subscriber) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := subscriberKey(subscriber.EnvironmentID, subscriber.SubscriberID)
	if _, ok := r.items[key]; !ok {
		return persistence.ErrSubscriberNotFound
	}

	subscriber.UpdatedAt = time.Now().UTC()

	raw, err := encode(subscriber)
	if err != nil {
		return err
	}

	r.items[key] = raw

	return nil
}

func (r *SubscriberRepository) GetBySubscriberID(ctx context.Context, environmentID, subscriberID string) (*models.Subscriber, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	raw, ok := r.items[subscriberKey(environmentID, subscriberID)]
	if !ok {
		return nil, persistence.ErrSubscriberNotFound
	}

	return decode[models.Subscriber](raw)
}

func (r *SubscriberRepository) ListByTopic(ctx context.Context, environmentID, topic string) ([]*models.Subscriber, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	members := make([]*models.Subscriber, 0)

	for _, raw := range r.items {
		subscriber, err := decode[models.Subscriber](raw)
		if err != nil {
			return nil, err
		}

		if subscriber.EnvironmentID != environmentID {
			continue
		}

		if slices.Contains(subscriber.Topics, topic) {
			members = append(members, subscriber)
		}
	}

	slices.SortFunc(members, func(a, b *models.Subscriber) int {
		return strings.Compare(a.SubscriberID, b.SubscriberID)
	})

	return members, nil
}
