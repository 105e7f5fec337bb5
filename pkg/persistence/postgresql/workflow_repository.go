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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , environment_id
  , organization_id
  , name
  , trigger_identifier
  , active
  , steps
  , variables
  , created_at
  , updated_at
  , deleted_at
`

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	steps, err := marshalJSONB(workflow.Steps)
	if err != nil {
		return err
	}

	if steps == nil {
		steps = []byte(`[]`)
	}

	variables, err := marshalJSONB(workflow.Variables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (
			id, environment_id, organization_id, name, trigger_identifier,
			active, steps, variables, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.EnvironmentID,
		workflow.OrganizationID,
		workflow.Name,
		workflow.TriggerIdentifier,
		workflow.Active,
		steps,
		variables,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = time.Now().UTC()

	steps, err := marshalJSONB(workflow.Steps)
	if err != nil {
		return err
	}

	if steps == nil {
		steps = []byte(`[]`)
	}

	variables, err := marshalJSONB(workflow.Variables)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows SET
			name = $1, trigger_identifier = $2, active = $3, steps = $4,
			variables = $5, updated_at = $6
		WHERE id = $7 AND environment_id = $8 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.Name,
		workflow.TriggerIdentifier,
		workflow.Active,
		steps,
		variables,
		workflow.UpdatedAt,
		workflow.ID,
		workflow.EnvironmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, environmentID, id string) (*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND environment_id = $2 AND deleted_at IS NULL
	`

	return r.scanWorkflow(r.db.QueryRowContext(ctx, query, id, environmentID))
}

func (r *WorkflowRepository) FindByTriggerIdentifier(ctx context.Context, environmentID, identifier string) (*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE environment_id = $1 AND trigger_identifier = $2 AND deleted_at IS NULL
	`

	return r.scanWorkflow(r.db.QueryRowContext(ctx, query, environmentID, identifier))
}

func (r *WorkflowRepository) List(ctx context.Context, environmentID string) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE environment_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, environmentID, id string) error {
	query := `
		UPDATE workflows SET deleted_at = $1
		WHERE id = $2 AND environment_id = $3 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id, environmentID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		steps     []byte
		variables []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.EnvironmentID,
		&workflow.OrganizationID,
		&workflow.Name,
		&workflow.TriggerIdentifier,
		&workflow.Active,
		&steps,
		&variables,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	err = unmarshalJSONB(steps, &workflow.Steps)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSONB(variables, &workflow.Variables)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}
