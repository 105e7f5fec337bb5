package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

type JobRepository struct {
	store *Persistence
	items map[string]string // id -> encoded job
}

func (r *JobRepository) CreateMany(ctx context.Context, jobs []*models.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	encoded := make(map[string]string, len(jobs))

	// Encode everything before touching the map so a bad job leaves no
	// partial chain behind.
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}

		job.CreatedAt = now
		job.UpdatedAt = now

		raw, err := encode(job)
		if err != nil {
			return err
		}

		encoded[job.ID] = raw
	}

	for id, raw := range encoded {
		r.items[id] = raw
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	raw, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrJobNotFound
	}

	return decode[models.Job](raw)
}

func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.items[job.ID]; !ok {
		return persistence.ErrJobNotFound
	}

	job.UpdatedAt = time.Now().UTC()

	raw, err := encode(job)
	if err != nil {
		return err
	}

	r.items[job.ID] = raw

	return nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status models.JobStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	raw, ok := r.items[id]
	if !ok {
		return persistence.ErrJobNotFound
	}

	job, err := decode[models.Job](raw)
	if err != nil {
		return err
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()

	encoded, err := encode(job)
	if err != nil {
		return err
	}

	r.items[id] = encoded

	return nil
}

func (r *JobRepository) FindByTransaction(ctx context.Context, transactionID string) ([]*models.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	jobs := make([]*models.Job, 0)

	for _, raw := range r.items {
		job, err := decode[models.Job](raw)
		if err != nil {
			return nil, err
		}

		if job.TransactionID == transactionID {
			jobs = append(jobs, job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs, nil
}

func (r *JobRepository) FindChild(ctx context.Context, parentID string) (*models.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, raw := range r.items {
		job, err := decode[models.Job](raw)
		if err != nil {
			return nil, err
		}

		if job.ParentID != nil && *job.ParentID == parentID {
			return job, nil
		}
	}

	return nil, nil
}

func (r *JobRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	due := make([]*models.Job, 0)

	for _, raw := range r.items {
		job, err := decode[models.Job](raw)
		if err != nil {
			return nil, err
		}

		if job.Status == models.JobStatusDelayed && job.WakeAt != nil && !job.WakeAt.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].WakeAt.Before(*due[j].WakeAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *JobRepository) FindOpenDigest(ctx context.Context, environmentID, digestKey string) (*models.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, raw := range r.items {
		job, err := decode[models.Job](raw)
		if err != nil {
			return nil, err
		}

		if job.EnvironmentID == environmentID &&
			job.Type == models.StepTypeDigest &&
			job.Status == models.JobStatusDelayed &&
			job.DigestKey == digestKey {
			return job, nil
		}
	}

	return nil, nil
}
