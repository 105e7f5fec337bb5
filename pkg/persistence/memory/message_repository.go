package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

type MessageRepository struct {
	store *Persistence
	items map[string]string // id -> encoded message
}

func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	raw, err := encode(message)
	if err != nil {
		return err
	}

	r.items[message.ID] = raw

	return nil
}

func (r *MessageRepository) Update(ctx context.Context, message *models.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.items[message.ID]; !ok {
		return persistence.ErrMessageNotFound
	}

	message.UpdatedAt = time.Now().UTC()

	raw, err := encode(message)
	if err != nil {
		return err
	}

	r.items[message.ID] = raw

	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	raw, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrMessageNotFound
	}

	return decode[models.Message](raw)
}

func (r *MessageRepository) FindBySubscriberAndStep(ctx context.Context, environmentID, subscriberID, stepID, transactionID string) (*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var latest *models.Message

	for _, raw := range r.items {
		message, err := decode[models.Message](raw)
		if err != nil {
			return nil, err
		}

		if message.EnvironmentID != environmentID ||
			message.SubscriberID != subscriberID ||
			message.StepID != stepID ||
			message.TransactionID != transactionID {
			continue
		}

		if latest == nil || message.CreatedAt.After(latest.CreatedAt) {
			latest = message
		}
	}

	if latest == nil {
		return nil, persistence.ErrMessageNotFound
	}

	return latest, nil
}

func (r *MessageRepository) FindByTransaction(ctx context.Context, transactionID string) ([]*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	messages := make([]*models.Message, 0)

	for _, raw := range r.items {
		message, err := decode[models.Message](raw)
		if err != nil {
			return nil, err
		}

		if message.TransactionID == transactionID {
			messages = append(messages, message)
		}
	}

	sortMessages(messages)

	return messages, nil
}

func (r *MessageRepository) FindBySubscriber(ctx context.Context, environmentID, subscriberID string) ([]*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	messages := make([]*models.Message, 0)

	for _, raw := range r.items {
		message, err := decode[models.Message](raw)
		if err != nil {
			return nil, err
		}

		if message.EnvironmentID == environmentID && message.SubscriberID == subscriberID {
			messages = append(messages, message)
		}
	}

	sortMessages(messages)

	return messages, nil
}

func sortMessages(messages []*models.Message) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
