// Package postgresql provides the PostgreSQL persistence implementation for
// the delivery pipeline.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/dukex/herald/pkg/persistence"
	"github.com/dukex/herald/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflowRepo        *WorkflowRepository
	jobRepo             *JobRepository
	messageRepo         *MessageRepository
	subscriberRepo      *SubscriberRepository
	integrationRepo     *IntegrationRepository
	executionDetailRepo *ExecutionDetailRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:                  database,
		logger:              logger,
		workflowRepo:        NewWorkflowRepository(database, logger),
		jobRepo:             NewJobRepository(database, logger),
		messageRepo:         NewMessageRepository(database, logger),
		subscriberRepo:      NewSubscriberRepository(database, logger),
		integrationRepo:     NewIntegrationRepository(database, logger),
		executionDetailRepo: NewExecutionDetailRepository(database, logger),
	}, nil
}

// Workflows returns the workflow repository.
func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflowRepo
}

// Jobs returns the job repository.
func (p *Persistence) Jobs() persistence.JobRepository {
	return p.jobRepo
}

// Messages returns the message repository.
func (p *Persistence) Messages() persistence.MessageRepository {
	return p.messageRepo
}

// Subscribers returns the subscriber repository.
func (p *Persistence) Subscribers() persistence.SubscriberRepository {
	return p.subscriberRepo
}

// Integrations returns the integration repository.
func (p *Persistence) Integrations() persistence.IntegrationRepository {
	return p.integrationRepo
}

// ExecutionDetails returns the execution detail repository.
func (p *Persistence) ExecutionDetails() persistence.ExecutionDetailRepository {
	return p.executionDetailRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
