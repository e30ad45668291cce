package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// Definitions manages one kind of operator-owned definition. Definitions are
// validated before they are stored and stamped with their creation and
// modification times.
type Definitions[T persistence.Definition] struct {
	store    persistence.DefinitionStore[T]
	validate func(definition *T) error
	stamp    func(definition *T, previous *T, now time.Time)
	now      func() time.Time
}

// NewTaskDefinitions creates the task definition service.
func NewTaskDefinitions(p persistence.Persistence, v *validator.Validate) *Definitions[models.TaskDefinition] {
	return &Definitions[models.TaskDefinition]{
		store: p.TaskDefinitions(),
		validate: func(definition *models.TaskDefinition) error {
			return v.Struct(definition)
		},
		stamp: func(definition *models.TaskDefinition, previous *models.TaskDefinition, now time.Time) {
			definition.CreatedAt = now
			if previous != nil {
				definition.CreatedAt = previous.CreatedAt
			}

			definition.UpdatedAt = now
		},
		now: utcNow,
	}
}

// NewWorkflowDefinitions creates the workflow definition service.
func NewWorkflowDefinitions(p persistence.Persistence, v *validator.Validate) *Definitions[models.WorkflowDefinition] {
	return &Definitions[models.WorkflowDefinition]{
		store: p.WorkflowDefinitions(),
		validate: func(definition *models.WorkflowDefinition) error {
			return validateWorkflowDefinition(v, definition)
		},
		stamp: func(definition *models.WorkflowDefinition, previous *models.WorkflowDefinition, now time.Time) {
			definition.CreatedAt = now
			if previous != nil {
				definition.CreatedAt = previous.CreatedAt
			}

			definition.UpdatedAt = now
		},
		now: utcNow,
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func validateWorkflowDefinition(v *validator.Validate, definition *models.WorkflowDefinition) error {
	if err := v.Struct(definition); err != nil {
		return err
	}

	if err := models.ValidateTaskNodes(definition.Tasks); err != nil {
		return err
	}

	if definition.FailureStrategy == models.FailureStrategyRetry || definition.FailureStrategy == models.FailureStrategyCompensateThenRetry {
		if definition.RetryLimit() <= 0 {
			return fmt.Errorf("failure strategy %s needs retry.limit > 0", definition.FailureStrategy)
		}
	}

	if len(definition.InputSchema) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(definition.InputSchema)); err != nil {
			return fmt.Errorf("invalid input_schema: %w", err)
		}
	}

	return nil
}

// Get returns the definition stored under key.
func (d *Definitions[T]) Get(ctx context.Context, key string) (*T, error) {
	definition, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get definition %s: %w", key, err)
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError("Get", key, persistence.ErrDefinitionNotFound)
	}

	return definition, nil
}

// List returns every stored definition ordered by key.
func (d *Definitions[T]) List(ctx context.Context) ([]*T, error) {
	definitions, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return definitions, nil
}

// Create validates and stores a new definition.
func (d *Definitions[T]) Create(ctx context.Context, definition *T) (*T, error) {
	if definition == nil {
		return nil, NewValidationError("Create", "invalid_request", "definition cannot be nil", ErrInvalidRequest)
	}

	if err := d.validate(definition); err != nil {
		return nil, NewValidationError("Create", "invalid_definition", err.Error(), ErrInvalidDefinition)
	}

	d.stamp(definition, nil, d.now())

	if err := d.store.Create(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

// Update replaces the definition stored under key. Running transactions keep
// the copy of the definition they started with.
func (d *Definitions[T]) Update(ctx context.Context, key string, definition *T) (*T, error) {
	if definition == nil {
		return nil, NewValidationError("Update", "invalid_request", "definition cannot be nil", ErrInvalidRequest)
	}

	if (*definition).DefinitionKey() != key {
		return nil, NewValidationError("Update", "key_mismatch",
			fmt.Sprintf("body addresses %s, path addresses %s", (*definition).DefinitionKey(), key), ErrKeyMismatch)
	}

	if err := d.validate(definition); err != nil {
		return nil, NewValidationError("Update", "invalid_definition", err.Error(), ErrInvalidDefinition)
	}

	existing, err := d.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	d.stamp(definition, existing, d.now())

	if err := d.store.Update(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

// Delete removes the definition stored under key.
func (d *Definitions[T]) Delete(ctx context.Context, key string) error {
	err := d.store.Delete(ctx, key)
	if err != nil && !errors.Is(err, persistence.ErrDefinitionNotFound) {
		return fmt.Errorf("failed to delete definition %s: %w", key, err)
	}

	return err
}
