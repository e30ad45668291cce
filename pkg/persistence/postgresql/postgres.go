// Package postgresql provides the PostgreSQL implementation of every store.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Persistence implements the persistence layer for PostgreSQL. History is
// retained: settled transactions keep their workflows and tasks.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	taskDefinitions     *DefinitionRepository[models.TaskDefinition]
	workflowDefinitions *DefinitionRepository[models.WorkflowDefinition]
	transactions        *TransactionRepository
	workflows           *WorkflowRepository
	tasks               *TaskRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := sqlbase.NewMigrator(logger, database, migrations())

	postgres := &Persistence{
		db:                  database,
		logger:              logger,
		taskDefinitions:     NewDefinitionRepository[models.TaskDefinition](database, "task"),
		workflowDefinitions: NewDefinitionRepository[models.WorkflowDefinition](database, "workflow"),
		transactions:        NewTransactionRepository(database, logger),
		workflows:           NewWorkflowRepository(database, logger),
		tasks:               NewTaskRepository(database, logger),
	}

	err = migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) TaskDefinitions() persistence.DefinitionStore[models.TaskDefinition] {
	return p.taskDefinitions
}

func (p *Persistence) WorkflowDefinitions() persistence.DefinitionStore[models.WorkflowDefinition] {
	return p.workflowDefinitions
}

func (p *Persistence) Transactions() persistence.TransactionStore { return p.transactions }
func (p *Persistence) Workflows() persistence.WorkflowStore       { return p.workflows }
func (p *Persistence) Tasks() persistence.TaskStore               { return p.tasks }

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	return ping(ctx, p.db)
}

func ping(ctx context.Context, db *sql.DB) error {
	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func rollback(ctx context.Context, logger *slog.Logger, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.ErrorContext(ctx, "failed to rollback transaction", "error", err)
	}
}

// scanDocument decodes the JSONB document column of a row, nil when there is no row.
func scanDocument[T any](row interface{ Scan(dest ...any) error }) (*T, error) {
	var document []byte

	err := row.Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var value T

	if err := json.Unmarshal(document, &value); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	return &value, nil
}

func queryDocuments[T any](ctx context.Context, logger *slog.Logger, db *sql.DB, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	values := make([]*T, 0)

	for rows.Next() {
		value, err := scanDocument[T](rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return values, nil
}
