package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		taskErr := persistence.NewTaskError("Update", "task-123", persistence.ErrStaleUpdate)
		txErr := persistence.NewTransactionError("Create", "tx-1", persistence.ErrTransactionAlreadyExists)

		assert.True(t, persistence.IsStaleUpdate(taskErr))
		assert.True(t, persistence.IsAlreadyExists(txErr))
		assert.False(t, persistence.IsNotFound(taskErr))

		assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", taskErr), persistence.ErrStaleUpdate))
	})

	t.Run("instance error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Update", "wf-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "Update")
		assert.Contains(t, err.Error(), "workflow wf-123")
		assert.Contains(t, err.Error(), "workflow not found")
		assert.True(t, persistence.IsNotFound(err))
	})
}
