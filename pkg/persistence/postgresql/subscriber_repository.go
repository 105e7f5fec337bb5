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

// SubscriberRepository handles subscriber-related database operations.
type SubscriberRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSubscriberRepository creates a new subscriber repository.
func NewSubscriberRepository(db *sql.DB, logger *slog.Logger) *SubscriberRepository {
	return &SubscriberRepository{db: db, logger: logger}
}

const subscriberColumns = `
	id
  , environment_id
  , subscriber_id
  , first_name
  , last_name
  , email
  , phone
  , avatar
  , locale
  , data
  , channels
  , topics
  , is_online
  , last_online_at
  , created_at
  , updated_at
`

func (r *SubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	if subscriber.ID == "" {
		subscriber.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	subscriber.CreatedAt = now
	subscriber.UpdatedAt = now

	data, err := marshalJSONB(subscriber.Data)
	if err != nil {
		return err
	}

	channels, err := marshalJSONB(subscriber.Channels)
	if err != nil {
		return err
	}

	topics, err := marshalJSONB(subscriber.Topics)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscribers (
			id, environment_id, subscriber_id, first_name, last_name, email,
			phone, avatar, locale, data, channels, topics, is_online,
			last_online_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		subscriber.ID,
		subscriber.EnvironmentID,
		subscriber.SubscriberID,
		nullableString(subscriber.FirstName),
		nullableString(subscriber.LastName),
		nullableString(subscriber.Email),
		nullableString(subscriber.Phone),
		nullableString(subscriber.Avatar),
		nullableString(subscriber.Locale),
		data,
		channels,
		topics,
		subscriber.IsOnline,
		subscriber.LastOnlineAt,
		subscriber.CreatedAt,
		subscriber.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscriber: %w", err)
	}

	return nil
}

func (r *SubscriberRepository) Update(ctx context.Context, subscriber *models.Subscriber) error {
	subscriber.UpdatedAt = time.Now().UTC()

	data, err := marshalJSONB(subscriber.Data)
	if err != nil {
		return err
	}

	channels, err := marshalJSONB(subscriber.Channels)
	if err != nil {
		return err
	}

	topics, err := marshalJSONB(subscriber.Topics)
	if err != nil {
		return err
	}

	query := `
		UPDATE subscribers SET
			first_name = $1, last_name = $2, email = $3, phone = $4,
			avatar = $5, locale = $6, data = $7, channels = $8, topics = $9,
			is_online = $10, last_online_at = $11, updated_at = $12
		WHERE id = $13
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableString(subscriber.FirstName),
		nullableString(subscriber.LastName),
		nullableString(subscriber.Email),
		nullableString(subscriber.Phone),
		nullableString(subscriber.Avatar),
		nullableString(subscriber.Locale),
		data,
		channels,
		topics,
		subscriber.IsOnline,
		subscriber.LastOnlineAt,
		subscriber.UpdatedAt,
		subscriber.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscriber: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrSubscriberNotFound
	}

	return nil
}

func (r *SubscriberRepository) GetBySubscriberID(ctx context.Context, environmentID, subscriberID string) (*models.Subscriber, error) {
	query := `
		SELECT ` + subscriberColumns + `
		FROM subscribers
		WHERE environment_id = $1 AND subscriber_id = $2
	`

	subscriber, err := r.scanSubscriber(r.db.QueryRowContext(ctx, query, environmentID, subscriberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSubscriberNotFound
		}

		return nil, err
	}

	return subscriber, nil
}

func (r *SubscriberRepository) ListByTopic(ctx context.Context, environmentID, topic string) ([]*models.Subscriber, error) {
	query := `
		SELECT ` + subscriberColumns + `
		FROM subscribers
		WHERE environment_id = $1 AND topics @> $2::jsonb
		ORDER BY subscriber_id
	`

	encoded, err := marshalJSONB([]string{topic})
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, environmentID, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic members: %w", err)
	}
	defer rows.Close()

	members := make([]*models.Subscriber, 0)

	for rows.Next() {
		subscriber, err := r.scanSubscriber(rows)
		if err != nil {
			return nil, err
		}

		members = append(members, subscriber)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate topic members: %w", err)
	}

	return members, nil
}

func (r *SubscriberRepository) scanSubscriber(row rowScanner) (*models.Subscriber, error) {
	var (
		subscriber models.Subscriber
		firstName  sql.NullString
		lastName   sql.NullString
		email      sql.NullString
		phone      sql.NullString
		avatar     sql.NullString
		locale     sql.NullString
		data       []byte
		channels   []byte
		topics     []byte
	)

	err := row.Scan(
		&subscriber.ID,
		&subscriber.EnvironmentID,
		&subscriber.SubscriberID,
		&firstName,
		&lastName,
		&email,
		&phone,
		&avatar,
		&locale,
		&data,
		&channels,
		&topics,
		&subscriber.IsOnline,
		&subscriber.LastOnlineAt,
		&subscriber.CreatedAt,
		&subscriber.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan subscriber: %w", err)
	}

	subscriber.FirstName = firstName.String
	subscriber.LastName = lastName.String
	subscriber.Email = email.String
	subscriber.Phone = phone.String
	subscriber.Avatar = avatar.String
	subscriber.Locale = locale.String

	err = unmarshalJSONB(data, &subscriber.Data)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSONB(channels, &subscriber.Channels)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSONB(topics, &subscriber.Topics)
	if err != nil {
		return nil, err
	}

	return &subscriber, nil
}
