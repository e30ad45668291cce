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
	"github.com/dukex/sagaflow/pkg/state"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TaskRepository handles task-related database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (r *TaskRepository) HealthCheck(ctx context.Context) error {
	return ping(ctx, r.db)
}

func (r *TaskRepository) Get(ctx context.Context, taskID string) (*models.Task, error) {
	if uuid.Validate(taskID) != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT document FROM tasks WHERE id = $1`, taskID)

	task, err := scanDocument[models.Task](row)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}

	return task, nil
}

func (r *TaskRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Task, error) {
	if uuid.Validate(workflowID) != nil {
		return []*models.Task{}, nil
	}

	return queryDocuments[models.Task](ctx, r.logger, r.db,
		`SELECT document FROM tasks WHERE workflow_id = $1 ORDER BY create_time, id`, workflowID)
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	return r.insert(ctx, r.db, task)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *TaskRepository) insert(ctx context.Context, db execer, task *models.Task) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate task ID: %w", err)
	}

	task.TaskID = id.String()

	if task.CreateTime.IsZero() {
		task.CreateTime = time.Now().UTC()
	}

	document, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO tasks (id, workflow_id, transaction_id, status, is_retried, document, create_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.TaskID, task.WorkflowID, task.TransactionID, task.Status, task.IsRetried, document, task.CreateTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// Update runs the conditional update as a single statement guarded by the
// allowed predecessors of the target status.
func (r *TaskRepository) Update(ctx context.Context, update models.TaskUpdate) (*models.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	task, err := r.lock(ctx, tx, update.TaskID)
	if err != nil {
		return nil, err
	}

	if task == nil {
		return nil, persistence.NewTaskError("Update", update.TaskID, persistence.ErrTaskNotFound)
	}

	if !persistence.ApplyTaskUpdate(task, update, time.Now().UTC()) {
		return nil, persistence.NewTaskError("Update", update.TaskID, persistence.ErrStaleUpdate)
	}

	document, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	predecessors := make([]string, 0)
	for _, status := range state.Predecessors(update.Status, update.IsSystem) {
		predecessors = append(predecessors, string(status))
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = $2, document = $3 WHERE id = $1 AND status = ANY($4)`,
		update.TaskID, task.Status, document, pq.Array(predecessors),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	if err := requireRow(result, persistence.NewTaskError("Update", update.TaskID, persistence.ErrStaleUpdate)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task update: %w", err)
	}

	return task, nil
}

// Reload retires the task and inserts its replacement in one SQL transaction.
func (r *TaskRepository) Reload(ctx context.Context, task *models.Task) (*models.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	current, err := r.lock(ctx, tx, task.TaskID)
	if err != nil {
		return nil, err
	}

	if current == nil {
		return nil, persistence.NewTaskError("Reload", task.TaskID, persistence.ErrTaskNotFound)
	}

	if current.IsRetried {
		return nil, persistence.NewTaskError("Reload", task.TaskID, persistence.ErrStaleUpdate)
	}

	current.IsRetried = true

	document, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET is_retried = TRUE, document = $2 WHERE id = $1`, current.TaskID, document)
	if err != nil {
		return nil, fmt.Errorf("failed to retire task: %w", err)
	}

	retry := persistence.RetryOf(current, "", time.Now().UTC())
	if err := r.insert(ctx, tx, retry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task reload: %w", err)
	}

	return retry, nil
}

func (r *TaskRepository) Delete(ctx context.Context, taskID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return requireRow(result, persistence.NewTaskError("Delete", taskID, persistence.ErrTaskNotFound))
}

func (r *TaskRepository) lock(ctx context.Context, tx *sql.Tx, taskID string) (*models.Task, error) {
	if uuid.Validate(taskID) != nil {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `SELECT document FROM tasks WHERE id = $1 FOR UPDATE`, taskID)

	task, err := scanDocument[models.Task](row)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	return task, nil
}
