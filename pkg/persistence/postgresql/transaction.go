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
)

// TransactionRepository handles transaction-related database operations.
type TransactionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *sql.DB, logger *slog.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

func (r *TransactionRepository) HealthCheck(ctx context.Context) error {
	return ping(ctx, r.db)
}

func (r *TransactionRepository) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM transactions WHERE id = $1`, transactionID)

	transaction, err := scanDocument[models.Transaction](row)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, err)
	}

	return transaction, nil
}

func (r *TransactionRepository) Create(ctx context.Context, transaction *models.Transaction) error {
	if transaction.CreateTime.IsZero() {
		transaction.CreateTime = time.Now().UTC()
	}

	document, err := json.Marshal(transaction)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, status, document, create_time) VALUES ($1, $2, $3, $4)`,
		transaction.TransactionID, transaction.Status, document, transaction.CreateTime,
	)
	if isUniqueViolation(err) {
		return persistence.NewTransactionError("Create", transaction.TransactionID, persistence.ErrTransactionAlreadyExists)
	}

	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, update models.TransactionUpdate) (*models.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	row := tx.QueryRowContext(ctx, `SELECT document FROM transactions WHERE id = $1 FOR UPDATE`, update.TransactionID)

	transaction, err := scanDocument[models.Transaction](row)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	if transaction == nil {
		return nil, persistence.NewTransactionError("Update", update.TransactionID, persistence.ErrTransactionNotFound)
	}

	if !persistence.ApplyTransactionUpdate(transaction, update, time.Now().UTC()) {
		return nil, persistence.NewTransactionError("Update", update.TransactionID, persistence.ErrStaleUpdate)
	}

	document, err := json.Marshal(transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE transactions SET status = $2, document = $3 WHERE id = $1 AND status = $4`,
		update.TransactionID, transaction.Status, document, models.TransactionStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction update: %w", err)
	}

	return transaction, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, transactionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	for _, query := range []string{
		`DELETE FROM tasks WHERE transaction_id = $1`,
		`DELETE FROM workflows WHERE transaction_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, query, transactionID); err != nil {
			return fmt.Errorf("failed to delete transaction instances: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, transactionID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	if err := requireRow(result, persistence.NewTransactionError("Delete", transactionID, persistence.ErrTransactionNotFound)); err != nil {
		return err
	}

	return tx.Commit()
}

// List returns transactions newest first, filtered by status when one is given.
func (r *TransactionRepository) List(ctx context.Context, status models.TransactionStatus) ([]*models.Transaction, error) {
	return queryDocuments[models.Transaction](ctx, r.logger, r.db,
		`SELECT document FROM transactions WHERE $1::text = '' OR status = $1::text ORDER BY create_time DESC`, string(status))
}
