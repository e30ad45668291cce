package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("file:///tmp/test", memory.NewPersistence())
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("/tmp/test", memory.NewPersistence())
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	fp := NewPersistence(filepath.Join(t.TempDir(), "missing"), memory.NewPersistence())
	require.ErrorIs(t, fp.HealthCheck(t.Context()), os.ErrNotExist)

	fp = NewPersistence(t.TempDir(), memory.NewPersistence())
	require.NoError(t, fp.HealthCheck(t.Context()))
}

func TestWorkflowDefinitionStore(t *testing.T) {
	testDir := t.TempDir()
	store := NewPersistence(testDir, memory.NewPersistence()).WorkflowDefinitions()
	ctx := t.Context()

	definition := &models.WorkflowDefinition{
		Name:            "orders",
		Rev:             "1",
		FailureStrategy: models.FailureStrategyCompensate,
		Tasks: []models.TaskNode{
			{Type: models.TaskTypeTask, Name: "reserve", TaskReferenceName: "reserve"},
			{Type: models.TaskTypeDecision, TaskReferenceName: "route", DefaultDecision: []models.TaskNode{
				{Type: models.TaskTypeTask, Name: "ship", TaskReferenceName: "ship"},
			}},
		},
	}

	require.NoError(t, store.Create(ctx, definition))
	assert.FileExists(t, filepath.Join(testDir, "workflows", "orders%2F1.json"))

	require.ErrorIs(t, store.Create(ctx, definition), persistence.ErrDefinitionAlreadyExists)

	got, err := store.Get(ctx, "orders/1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, definition.Tasks, got.Tasks)

	missing, err := store.Get(ctx, "orders/2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, "orders/1"))
	require.ErrorIs(t, store.Delete(ctx, "orders/1"), persistence.ErrDefinitionNotFound)
}

func TestTaskDefinitionStore_UpdateMissing(t *testing.T) {
	store := NewPersistence(t.TempDir(), memory.NewPersistence()).TaskDefinitions()

	err := store.Update(t.Context(), &models.TaskDefinition{Name: "reserve"})
	require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	list, err := store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPersistence_DelegatesInstances(t *testing.T) {
	fp := NewPersistence(t.TempDir(), memory.NewPersistence())

	require.NoError(t, fp.Transactions().Create(t.Context(), &models.Transaction{TransactionID: "tx"}))

	got, err := fp.Transactions().Get(t.Context(), "tx")
	require.NoError(t, err)
	assert.Equal(t, "tx", got.TransactionID)
}
