package engine_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/sagaflow/pkg/engine"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/mocks"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEngine_ProcessUpdateTasksDefersLockedWorkflow(t *testing.T) {
	locker := &mocks.MockLocker{}
	locker.On("Lock", mock.Anything, "tx-1").Return(nil, lock.ErrNotAcquired)
	locker.On("Lock", mock.Anything, "tx-2").Return(mocks.NoopRelease, nil)

	messenger := &mocks.MockMessenger{}
	messenger.On("SendEvent", mock.Anything, mock.Anything).Return(nil)

	e := engine.New(engine.Config{
		Persistence: memory.NewPersistence(),
		Messenger:   messenger,
		Locker:      locker,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	errs := e.ProcessUpdateTasks(context.Background(), []models.TaskUpdate{
		{TransactionID: "tx-1", WorkflowID: "wf-1", TaskID: "task-1", Status: models.TaskStatusInprogress},
		{TransactionID: "tx-1", WorkflowID: "wf-1", TaskID: "task-1", Status: models.TaskStatusCompleted},
		{TransactionID: "tx-2", WorkflowID: "wf-2", TaskID: "task-2", Status: models.TaskStatusCompleted},
	})

	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], lock.ErrNotAcquired)
	assert.ErrorIs(t, errs[1], engine.ErrDeferred)
	assert.NoError(t, errs[2], "an unknown task is reported as an event, not redelivered")

	locker.AssertNumberOfCalls(t, "Lock", 2)
	messenger.AssertCalled(t, "SendEvent", mock.Anything, mock.Anything)
}

func TestEngine_ProcessUpdateTasksKeepsWorkflowOrder(t *testing.T) {
	h := newHarness(t, withSequence("t1", "t2"))

	h.start(nil)

	t1 := h.task("t1")
	errs := h.engine.ProcessUpdateTasks(h.ctx, []models.TaskUpdate{
		{TransactionID: t1.TransactionID, WorkflowID: t1.WorkflowID, TaskID: t1.TaskID, Status: models.TaskStatusInprogress},
		{TransactionID: t1.TransactionID, WorkflowID: t1.WorkflowID, TaskID: t1.TaskID, Status: models.TaskStatusCompleted},
	})

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"t1", "t2"}, h.dispatchedRefs())
}

func withSequence(refs ...string) *models.WorkflowDefinition {
	nodes := make([]models.TaskNode, 0, len(refs))
	for _, ref := range refs {
		nodes = append(nodes, models.TaskNode{Type: models.TaskTypeTask, Name: ref, TaskReferenceName: ref})
	}

	return &models.WorkflowDefinition{
		Name:            "sequence",
		Rev:             "1",
		Tasks:           nodes,
		FailureStrategy: models.FailureStrategyFailed,
	}
}

func TestEngine_ProcessUpdateTasksGroupsUpdatesWithoutIDs(t *testing.T) {
	h := newHarness(t, withSequence("t1", "t2"))

	h.start(nil)

	t1 := h.task("t1")
	errs := h.engine.ProcessUpdateTasks(h.ctx, []models.TaskUpdate{
		{TransactionID: t1.TransactionID, WorkflowID: t1.WorkflowID, TaskID: t1.TaskID, Status: models.TaskStatusInprogress},
		{TaskID: t1.TaskID, Status: models.TaskStatusCompleted},
	})

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, models.TaskStatusCompleted, h.storedTask(t1.WorkflowID, "t1").Status)
	assert.Equal(t, []string{"t1", "t2"}, h.dispatchedRefs())
}

func TestEngine_RouteUpdate(t *testing.T) {
	h := newHarness(t, withSequence("t1"))

	h.start(nil)

	t1 := h.task("t1")

	routed := h.engine.RouteUpdate(h.ctx, models.TaskUpdate{TaskID: t1.TaskID, Status: models.TaskStatusCompleted})
	assert.Equal(t, t1.TransactionID, routed.TransactionID)
	assert.Equal(t, t1.WorkflowID, routed.WorkflowID)

	unknown := h.engine.RouteUpdate(h.ctx, models.TaskUpdate{TaskID: "missing"})
	assert.Empty(t, unknown.TransactionID)
}
