package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/sagaflow/pkg/persistence"
)

// DefinitionRepository stores one kind of definition in the definitions table.
type DefinitionRepository[T persistence.Definition] struct {
	db     *sql.DB
	logger *slog.Logger
	kind   string
}

// NewDefinitionRepository creates a new definition repository for kind.
func NewDefinitionRepository[T persistence.Definition](db *sql.DB, kind string) *DefinitionRepository[T] {
	return &DefinitionRepository[T]{db: db, logger: slog.Default().With("module", "postgresql", "kind", kind), kind: kind}
}

func (r *DefinitionRepository[T]) HealthCheck(ctx context.Context) error {
	return ping(ctx, r.db)
}

// Get returns nil, nil when the definition does not exist.
func (r *DefinitionRepository[T]) Get(ctx context.Context, key string) (*T, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM definitions WHERE kind = $1 AND key = $2`, r.kind, key)

	definition, err := scanDocument[T](row)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s definition %s: %w", r.kind, key, err)
	}

	return definition, nil
}

func (r *DefinitionRepository[T]) Create(ctx context.Context, definition *T) error {
	key := (*definition).DefinitionKey()

	document, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO definitions (kind, key, document) VALUES ($1, $2, $3)`,
		r.kind, key, document,
	)
	if isUniqueViolation(err) {
		return persistence.NewDefinitionError("Create", key, persistence.ErrDefinitionAlreadyExists)
	}

	if err != nil {
		return fmt.Errorf("failed to insert definition %s: %w", key, err)
	}

	return nil
}

func (r *DefinitionRepository[T]) Update(ctx context.Context, definition *T) error {
	key := (*definition).DefinitionKey()

	document, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE definitions SET document = $3, updated_at = NOW() WHERE kind = $1 AND key = $2`,
		r.kind, key, document,
	)
	if err != nil {
		return fmt.Errorf("failed to update definition %s: %w", key, err)
	}

	return requireRow(result, persistence.NewDefinitionError("Update", key, persistence.ErrDefinitionNotFound))
}

func (r *DefinitionRepository[T]) Delete(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM definitions WHERE kind = $1 AND key = $2`, r.kind, key)
	if err != nil {
		return fmt.Errorf("failed to delete definition %s: %w", key, err)
	}

	return requireRow(result, persistence.NewDefinitionError("Delete", key, persistence.ErrDefinitionNotFound))
}

// List returns every definition of the repository's kind ordered by key.
func (r *DefinitionRepository[T]) List(ctx context.Context) ([]*T, error) {
	return queryDocuments[T](ctx, r.logger, r.db,
		`SELECT document FROM definitions WHERE kind = $1 ORDER BY key`, r.kind)
}

func requireRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
