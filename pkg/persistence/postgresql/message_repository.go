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

// MessageRepository handles message-related database operations.
type MessageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *sql.DB, logger *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, logger: logger}
}

const messageColumns = `
	id
  , environment_id
  , organization_id
  , job_id
  , step_id
  , transaction_id
  , subscriber_id
  , channel
  , provider_id
  , content
  , subject
  , status
  , error_text
  , provider_message_id
  , seen
  , read
  , last_seen_date
  , expire_at
  , created_at
  , updated_at
`

func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	query := `
		INSERT INTO messages (
			id, environment_id, organization_id, job_id, step_id, transaction_id,
			subscriber_id, channel, provider_id, content, subject, status,
			error_text, provider_message_id, seen, read, last_seen_date,
			expire_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.EnvironmentID,
		message.OrganizationID,
		message.JobID,
		message.StepID,
		message.TransactionID,
		message.SubscriberID,
		string(message.Channel),
		message.ProviderID,
		message.Content,
		message.Subject,
		string(message.Status),
		nullableString(message.ErrorText),
		nullableString(message.ProviderMessageID),
		message.Seen,
		message.Read,
		message.LastSeenDate,
		message.ExpireAt,
		message.CreatedAt,
		message.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

func (r *MessageRepository) Update(ctx context.Context, message *models.Message) error {
	message.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE messages SET
			status = $1, error_text = $2, provider_message_id = $3, seen = $4,
			read = $5, last_seen_date = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		string(message.Status),
		nullableString(message.ErrorText),
		nullableString(message.ProviderMessageID),
		message.Seen,
		message.Read,
		message.LastSeenDate,
		message.UpdatedAt,
		message.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrMessageNotFound
	}

	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	message, err := r.scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMessageNotFound
		}

		return nil, err
	}

	return message, nil
}

func (r *MessageRepository) FindBySubscriberAndStep(ctx context.Context, environmentID, subscriberID, stepID, transactionID string) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE environment_id = $1
		  AND subscriber_id = $2
		  AND step_id = $3
		  AND transaction_id = $4
		ORDER BY created_at DESC
		LIMIT 1
	`

	message, err := r.scanMessage(r.db.QueryRowContext(ctx, query,
		environmentID, subscriberID, stepID, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMessageNotFound
		}

		return nil, err
	}

	return message, nil
}

func (r *MessageRepository) FindByTransaction(ctx context.Context, transactionID string) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`

	return r.queryMessages(ctx, query, transactionID)
}

func (r *MessageRepository) FindBySubscriber(ctx context.Context, environmentID, subscriberID string) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE environment_id = $1 AND subscriber_id = $2
		ORDER BY created_at DESC
	`

	return r.queryMessages(ctx, query, environmentID, subscriberID)
}

func (r *MessageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	messages := make([]*models.Message, 0)

	for rows.Next() {
		message, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}

		messages = append(messages, message)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func (r *MessageRepository) scanMessage(row rowScanner) (*models.Message, error) {
	var (
		message           models.Message
		errorText         sql.NullString
		providerMessageID sql.NullString
	)

	err := row.Scan(
		&message.ID,
		&message.EnvironmentID,
		&message.OrganizationID,
		&message.JobID,
		&message.StepID,
		&message.TransactionID,
		&message.SubscriberID,
		&message.Channel,
		&message.ProviderID,
		&message.Content,
		&message.Subject,
		&message.Status,
		&errorText,
		&providerMessageID,
		&message.Seen,
		&message.Read,
		&message.LastSeenDate,
		&message.ExpireAt,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	message.ErrorText = errorText.String
	message.ProviderMessageID = providerMessageID.String

	return &message, nil
}
