package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

type WorkflowRepository struct {
	store *Persistence
	items map[string]string // id -> encoded workflow
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	raw, err := encode(workflow)
	if err != nil {
		return err
	}

	r.items[workflow.ID] = raw

	return nil
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.items[workflow.ID]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	workflow.UpdatedAt = time.Now().UTC()

	raw, err := encode(workflow)
	if err != nil {
		return err
	}

	r.items[workflow.ID] = raw

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, environmentID, id string) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	raw, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	workflow, err := decode[models.Workflow](raw)
	if err != nil {
		return nil, err
	}

	if workflow.EnvironmentID != environmentID || workflow.DeletedAt != nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

func (r *WorkflowRepository) FindByTriggerIdentifier(ctx context.Context, environmentID, identifier string) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, raw := range r.items {
		workflow, err := decode[models.Workflow](raw)
		if err != nil {
			return nil, err
		}

		if workflow.EnvironmentID == environmentID &&
			workflow.TriggerIdentifier == identifier &&
			workflow.DeletedAt == nil {
			return workflow, nil
		}
	}

	return nil, persistence.ErrWorkflowNotFound
}

func (r *WorkflowRepository) List(ctx context.Context, environmentID string) ([]*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, raw := range r.items {
		workflow, err := decode[models.Workflow](raw)
		if err != nil {
			return nil, err
		}

		if workflow.EnvironmentID == environmentID && workflow.DeletedAt == nil {
			workflows = append(workflows, workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, environmentID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	raw, ok := r.items[id]
	if !ok {
		return persistence.ErrWorkflowNotFound
	}

	workflow, err := decode[models.Workflow](raw)
	if err != nil {
		return err
	}

	if workflow.EnvironmentID != environmentID {
		return persistence.ErrWorkflowNotFound
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	encoded, err := encode(workflow)
	if err != nil {
		return err
	}

	r.items[id] = encoded

	return nil
}
