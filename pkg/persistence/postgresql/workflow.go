package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/google/uuid"
)

const maxIDAttempts = 5

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) HealthCheck(ctx context.Context) error {
	return ping(ctx, r.db)
}

func (r *WorkflowRepository) Get(ctx context.Context, workflowID string) (*models.Workflow, error) {
	if uuid.Validate(workflowID) != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT document FROM workflows WHERE id = $1`, workflowID)

	workflow, err := scanDocument[models.Workflow](row)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", workflowID, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*models.Workflow, error) {
	return queryDocuments[models.Workflow](ctx, r.logger, r.db,
		`SELECT document FROM workflows WHERE transaction_id = $1 ORDER BY create_time, id`, transactionID)
}

// Create inserts the workflow under a fresh id. A collision on the primary key
// leaves nothing behind, so the insert is retried with a new id.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreateTime.IsZero() {
		workflow.CreateTime = now
	}

	if workflow.StartTime.IsZero() {
		workflow.StartTime = now
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.WorkflowID = id.String()

		document, err := json.Marshal(workflow)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow: %w", err)
		}

		_, err = r.db.ExecContext(ctx,
			`INSERT INTO workflows (id, transaction_id, status, document, create_time) VALUES ($1, $2, $3, $4, $5)`,
			workflow.WorkflowID, workflow.TransactionID, workflow.Status, document, workflow.CreateTime,
		)
		if isUniqueViolation(err) {
			r.logger.WarnContext(ctx, "workflow id collision, retrying", "workflow_id", workflow.WorkflowID)

			continue
		}

		if err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}

		return nil
	}

	return fmt.Errorf("failed to allocate a workflow id after %d attempts", maxIDAttempts)
}

func (r *WorkflowRepository) Update(ctx context.Context, update models.WorkflowUpdate) (*models.Workflow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	row := tx.QueryRowContext(ctx, `SELECT document FROM workflows WHERE id = $1 FOR UPDATE`, update.WorkflowID)

	workflow, err := scanDocument[models.Workflow](row)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("Update", update.WorkflowID, persistence.ErrWorkflowNotFound)
	}

	if !persistence.ApplyWorkflowUpdate(workflow, update, time.Now().UTC()) {
		return nil, persistence.NewWorkflowError("Update", update.WorkflowID, persistence.ErrStaleUpdate)
	}

	document, err := json.Marshal(workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE workflows SET status = $2, document = $3 WHERE id = $1 AND status = $4`,
		update.WorkflowID, workflow.Status, document, models.WorkflowStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workflow update: %w", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, workflowID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow tasks: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if err := requireRow(result, persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)); err != nil {
		return err
	}

	return tx.Commit()
}
