package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
)

type ExecutionDetailRepository struct {
	store *Persistence
	items map[string]string // id -> encoded detail
	order []string          // append order, the audit trail is append-only
}

func (r *ExecutionDetailRepository) Create(ctx context.Context, detail *models.ExecutionDetail) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if detail.ID == "" {
		detail.ID = uuid.New().String()
	}

	detail.CreatedAt = time.Now().UTC()

	raw, err := encode(detail)
	if err != nil {
		return err
	}

	r.items[detail.ID] = raw
	r.order = append(r.order, detail.ID)

	return nil
}

func (r *ExecutionDetailRepository) FindByJob(ctx context.Context, jobID string) ([]*models.ExecutionDetail, error) {
	return r.filter(func(d *models.ExecutionDetail) bool {
		return d.JobID == jobID
	})
}

func (r *ExecutionDetailRepository) FindByTransaction(ctx context.Context, transactionID string) ([]*models.ExecutionDetail, error) {
	return r.filter(func(d *models.ExecutionDetail) bool {
		return d.TransactionID == transactionID
	})
}

func (r *ExecutionDetailRepository) FindLatestByMessage(ctx context.Context, messageID string) (*models.ExecutionDetail, error) {
	details, err := r.filter(func(d *models.ExecutionDetail) bool {
		return d.MessageID == messageID
	})
	if err != nil {
		return nil, err
	}

	if len(details) == 0 {
		return nil, nil
	}

	return details[len(details)-1], nil
}

func (r *ExecutionDetailRepository) filter(match func(*models.ExecutionDetail) bool) ([]*models.ExecutionDetail, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	details := make([]*models.ExecutionDetail, 0)

	for _, id := range r.order {
		detail, err := decode[models.ExecutionDetail](r.items[id])
		if err != nil {
			return nil, err
		}

		if match(detail) {
			details = append(details, detail)
		}
	}

	return details, nil
}
