package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

// JobRepository handles job-related database operations.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

const jobColumns = `
	id
  , environment_id
  , organization_id
  , workflow_id
  , transaction_id
  , subscriber_id
  , step_id
  , template_id
  , step_type
  , status
  , parent_id
  , payload
  , overrides
  , tenant
  , actor_id
  , provider_id
  , delay
  , digest
  , digest_key
  , digest_events
  , wake_at
  , error_text
  , created_at
  , updated_at
`

// CreateMany inserts a full job chain inside one transaction so a failure
// leaves no partial chain behind.
func (r *JobRepository) CreateMany(ctx context.Context, jobs []*models.Job) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}

		job.CreatedAt = now
		job.UpdatedAt = now

		err = r.insertJob(ctx, tx, job)
		if err != nil {
			_ = tx.Rollback()

			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit job chain: %w", err)
	}

	return nil
}

func (r *JobRepository) insertJob(ctx context.Context, tx *sql.Tx, job *models.Job) error {
	payload, err := marshalJSONB(job.Payload)
	if err != nil {
		return err
	}

	overrides, err := marshalJSONB(job.Overrides)
	if err != nil {
		return err
	}

	tenant, err := marshalJSONB(job.Tenant)
	if err != nil {
		return err
	}

	delay, err := marshalJSONB(job.Delay)
	if err != nil {
		return err
	}

	digest, err := marshalJSONB(job.Digest)
	if err != nil {
		return err
	}

	digestEvents, err := marshalJSONB(job.DigestEvents)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			id, environment_id, organization_id, workflow_id, transaction_id,
			subscriber_id, step_id, template_id, step_type, status, parent_id,
			payload, overrides, tenant, actor_id, provider_id, delay, digest,
			digest_key, digest_events, wake_at, error_text, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
	`

	_, err = tx.ExecContext(ctx, query,
		job.ID,
		job.EnvironmentID,
		job.OrganizationID,
		job.WorkflowID,
		job.TransactionID,
		job.SubscriberID,
		job.StepID,
		nullableString(job.TemplateID),
		string(job.Type),
		string(job.Status),
		job.ParentID,
		payload,
		overrides,
		tenant,
		nullableString(job.ActorID),
		nullableString(job.ProviderID),
		delay,
		digest,
		nullableString(job.DigestKey),
		digestEvents,
		job.WakeAt,
		nullableString(job.Error),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJobNotFound
		}

		return nil, err
	}

	return job, nil
}

func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()

	digestEvents, err := marshalJSONB(job.DigestEvents)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET
			status = $1, digest_key = $2, digest_events = $3, wake_at = $4,
			error_text = $5, provider_id = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		string(job.Status),
		nullableString(job.DigestKey),
		digestEvents,
		job.WakeAt,
		nullableString(job.Error),
		nullableString(job.ProviderID),
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status models.JobStatus) error {
	query := `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) FindByTransaction(ctx context.Context, transactionID string) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`

	return r.queryJobs(ctx, query, transactionID)
}

func (r *JobRepository) FindChild(ctx context.Context, parentID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE parent_id = $1`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, parentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return job, nil
}

func (r *JobRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND wake_at IS NOT NULL AND wake_at <= $2
		ORDER BY wake_at ASC
		LIMIT $3
	`

	return r.queryJobs(ctx, query, string(models.JobStatusDelayed), now, limit)
}

func (r *JobRepository) FindOpenDigest(ctx context.Context, environmentID, digestKey string) (*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE environment_id = $1
		  AND digest_key = $2
		  AND step_type = $3
		  AND status = $4
		ORDER BY created_at ASC
		LIMIT 1
	`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query,
		environmentID, digestKey, string(models.StepTypeDigest), string(models.JobStatusDelayed)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return job, nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) scanJob(row rowScanner) (*models.Job, error) {
	var (
		job          models.Job
		templateID   sql.NullString
		actorID      sql.NullString
		providerID   sql.NullString
		digestKey    sql.NullString
		errorText    sql.NullString
		payload      []byte
		overrides    []byte
		tenant       []byte
		delay        []byte
		digest       []byte
		digestEvents []byte
	)

	err := row.Scan(
		&job.ID,
		&job.EnvironmentID,
		&job.OrganizationID,
		&job.WorkflowID,
		&job.TransactionID,
		&job.SubscriberID,
		&job.StepID,
		&templateID,
		&job.Type,
		&job.Status,
		&job.ParentID,
		&payload,
		&overrides,
		&tenant,
		&actorID,
		&providerID,
		&delay,
		&digest,
		&digestKey,
		&digestEvents,
		&job.WakeAt,
		&errorText,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.TemplateID = templateID.String
	job.ActorID = actorID.String
	job.ProviderID = providerID.String
	job.DigestKey = digestKey.String
	job.Error = errorText.String

	jsonbColumns := []struct {
		raw    []byte
		target any
	}{
		{payload, &job.Payload},
		{overrides, &job.Overrides},
		{tenant, &job.Tenant},
		{delay, &job.Delay},
		{digest, &job.Digest},
		{digestEvents, &job.DigestEvents},
	}

	for _, column := range jsonbColumns {
		err = unmarshalJSONB(column.raw, column.target)
		if err != nil {
			return nil, err
		}
	}

	return &job, nil
}
