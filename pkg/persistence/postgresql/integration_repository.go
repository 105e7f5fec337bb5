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

// IntegrationRepository handles integration-related database operations.
type IntegrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *sql.DB, logger *slog.Logger) *IntegrationRepository {
	return &IntegrationRepository{db: db, logger: logger}
}

const integrationColumns = `
	id
  , environment_id
  , organization_id
  , channel
  , provider_id
  , active
  , is_primary
  , priority
  , credentials
  , created_at
  , updated_at
  , deleted_at
`

func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	integration.CreatedAt = now
	integration.UpdatedAt = now

	credentials, err := marshalJSONB(integration.Credentials)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO integrations (
			id, environment_id, organization_id, channel, provider_id, active,
			is_primary, priority, credentials, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		integration.ID,
		integration.EnvironmentID,
		integration.OrganizationID,
		string(integration.Channel),
		integration.ProviderID,
		integration.Active,
		integration.Primary,
		integration.Priority,
		credentials,
		integration.CreatedAt,
		integration.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert integration: %w", err)
	}

	return nil
}

func (r *IntegrationRepository) Update(ctx context.Context, integration *models.Integration) error {
	integration.UpdatedAt = time.Now().UTC()

	credentials, err := marshalJSONB(integration.Credentials)
	if err != nil {
		return err
	}

	query := `
		UPDATE integrations SET
			active = $1, is_primary = $2, priority = $3, credentials = $4,
			deleted_at = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		integration.Active,
		integration.Primary,
		integration.Priority,
		credentials,
		integration.DeletedAt,
		integration.UpdatedAt,
		integration.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrIntegrationNotFound
	}

	return nil
}

func (r *IntegrationRepository) List(ctx context.Context, environmentID string) ([]*models.Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE environment_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	integrations := make([]*models.Integration, 0)

	for rows.Next() {
		integration, err := r.scanIntegration(rows)
		if err != nil {
			return nil, err
		}

		integrations = append(integrations, integration)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating integrations: %w", err)
	}

	return integrations, nil
}

func (r *IntegrationRepository) FindActive(ctx context.Context, environmentID string, channel models.ChannelType, providerID string) (*models.Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE environment_id = $1
		  AND channel = $2
		  AND active = true
		  AND deleted_at IS NULL
		  AND ($3 = '' OR provider_id = $3)
		ORDER BY is_primary DESC, priority DESC, created_at ASC
		LIMIT 1
	`

	integration, err := r.scanIntegration(r.db.QueryRowContext(ctx, query,
		environmentID, string(channel), providerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrIntegrationNotFound
		}

		return nil, err
	}

	return integration, nil
}

func (r *IntegrationRepository) scanIntegration(row rowScanner) (*models.Integration, error) {
	var (
		integration models.Integration
		credentials []byte
	)

	err := row.Scan(
		&integration.ID,
		&integration.EnvironmentID,
		&integration.OrganizationID,
		&integration.Channel,
		&integration.ProviderID,
		&integration.Active,
		&integration.Primary,
		&integration.Priority,
		&credentials,
		&integration.CreatedAt,
		&integration.UpdatedAt,
		&integration.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	err = unmarshalJSONB(credentials, &integration.Credentials)
	if err != nil {
		return nil, err
	}

	return &integration, nil
}
