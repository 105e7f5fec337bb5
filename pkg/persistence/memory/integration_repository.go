package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

type IntegrationRepository struct {
	store *Persistence
	items map[string]string // id -> encoded integration
}

func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	integration.CreatedAt = now
	integration.UpdatedAt = now

	raw, err := encode(integration)
	if err != nil {
		return err
	}

	r.items[integration.ID] = raw

	return nil
}

func (r *IntegrationRepository) Update(ctx context.Context, integration *models.Integration) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.items[integration.ID]; !ok {
		return persistence.ErrIntegrationNotFound
	}

	integration.UpdatedAt = time.Now().UTC()

	raw, err := encode(integration)
	if err != nil {
		return err
	}

	r.items[integration.ID] = raw

	return nil
}

func (r *IntegrationRepository) List(ctx context.Context, environmentID string) ([]*models.Integration, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	integrations := make([]*models.Integration, 0)

	for _, raw := range r.items {
		integration, err := decode[models.Integration](raw)
		if err != nil {
			return nil, err
		}

		if integration.EnvironmentID == environmentID && integration.DeletedAt == nil {
			integrations = append(integrations, integration)
		}
	}

	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].CreatedAt.Before(integrations[j].CreatedAt)
	})

	return integrations, nil
}

func (r *IntegrationRepository) FindActive(ctx context.Context, environmentID string, channel models.ChannelType, providerID string) (*models.Integration, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	candidates := make([]*models.Integration, 0)

	for _, raw := range r.items {
		integration, err := decode[models.Integration](raw)
		if err != nil {
			return nil, err
		}

		if integration.EnvironmentID != environmentID ||
			integration.Channel != channel ||
			!integration.Active ||
			integration.DeletedAt != nil {
			continue
		}

		if providerID != "" && integration.ProviderID != providerID {
			continue
		}

		candidates = append(candidates, integration)
	}

	if len(candidates) == 0 {
		return nil, persistence.ErrIntegrationNotFound
	}

	// Primary wins; priority breaks ties among the rest.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Primary != candidates[j].Primary {
			return candidates[i].Primary
		}

		return candidates[i].Priority > candidates[j].Priority
	})

	return candidates[0], nil
}
