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
)

// ExecutionDetailRepository handles the append-only audit trail.
type ExecutionDetailRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionDetailRepository creates a new execution detail repository.
func NewExecutionDetailRepository(db *sql.DB, logger *slog.Logger) *ExecutionDetailRepository {
	return &ExecutionDetailRepository{db: db, logger: logger}
}

const executionDetailColumns = `
	id
  , environment_id
  , organization_id
  , job_id
  , message_id
  , transaction_id
  , subscriber_id
  , detail
  , status
  , raw
  , created_at
`

func (r *ExecutionDetailRepository) Create(ctx context.Context, detail *models.ExecutionDetail) error {
	if detail.ID == "" {
		detail.ID = uuid.New().String()
	}

	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO execution_details (
			id, environment_id, organization_id, job_id, message_id,
			transaction_id, subscriber_id, detail, status, raw, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		detail.ID,
		detail.EnvironmentID,
		detail.OrganizationID,
		detail.JobID,
		nullableString(detail.MessageID),
		detail.TransactionID,
		detail.SubscriberID,
		string(detail.Detail),
		string(detail.Status),
		nullableString(detail.Raw),
		detail.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution detail: %w", err)
	}

	return nil
}

func (r *ExecutionDetailRepository) FindByJob(ctx context.Context, jobID string) ([]*models.ExecutionDetail, error) {
	query := `
		SELECT ` + executionDetailColumns + `
		FROM execution_details
		WHERE job_id = $1
		ORDER BY created_at ASC
	`

	return r.queryDetails(ctx, query, jobID)
}

func (r *ExecutionDetailRepository) FindByTransaction(ctx context.Context, transactionID string) ([]*models.ExecutionDetail, error) {
	query := `
		SELECT ` + executionDetailColumns + `
		FROM execution_details
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`

	return r.queryDetails(ctx, query, transactionID)
}

func (r *ExecutionDetailRepository) FindLatestByMessage(ctx context.Context, messageID string) (*models.ExecutionDetail, error) {
	query := `
		SELECT ` + executionDetailColumns + `
		FROM execution_details
		WHERE message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	detail, err := r.scanDetail(r.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return detail, nil
}

func (r *ExecutionDetailRepository) queryDetails(ctx context.Context, query string, args ...any) ([]*models.ExecutionDetail, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution details: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	details := make([]*models.ExecutionDetail, 0)

	for rows.Next() {
		detail, err := r.scanDetail(rows)
		if err != nil {
			return nil, err
		}

		details = append(details, detail)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution details: %w", err)
	}

	return details, nil
}

func (r *ExecutionDetailRepository) scanDetail(row rowScanner) (*models.ExecutionDetail, error) {
	var (
		detail    models.ExecutionDetail
		messageID sql.NullString
		raw       sql.NullString
	)

	err := row.Scan(
		&detail.ID,
		&detail.EnvironmentID,
		&detail.OrganizationID,
		&detail.JobID,
		&messageID,
		&detail.TransactionID,
		&detail.SubscriberID,
		&detail.Detail,
		&detail.Status,
		&raw,
		&detail.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan execution detail: %w", err)
	}

	detail.MessageID = messageID.String
	detail.Raw = raw.String

	return &detail, nil
}
