package engine_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dukex/sagaflow/pkg/engine"
	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/persistence/memory"
	"github.com/dukex/sagaflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.October, 19, 10, 15, 0, 0, time.UTC)

// recordingMessenger keeps everything the engine sends out.
type recordingMessenger struct {
	mu         sync.Mutex
	dispatched []models.Task
	events     []events.Event
	timers     []models.Timer
}

func (m *recordingMessenger) Dispatch(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dispatched = append(m.dispatched, *task)

	return nil
}

func (m *recordingMessenger) SendEvent(_ context.Context, event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)

	return nil
}

func (m *recordingMessenger) SendTimer(_ context.Context, timer models.Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timers = append(m.timers, timer)

	return nil
}

// take removes and returns the pending timers of the given types.
func (m *recordingMessenger) take(types ...models.TimerType) []models.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	var taken, kept []models.Timer

	for _, timer := range m.timers {
		if slices.Contains(types, timer.Type) {
			taken = append(taken, timer)
		} else {
			kept = append(kept, timer)
		}
	}

	m.timers = kept

	return taken
}

// tickingClock moves forward on every read so store timestamps are ordered.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Millisecond)

	return c.now
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	engine    *engine.Engine
	store     *memory.Persistence
	messenger *recordingMessenger
	main      *models.WorkflowDefinition
}

// newHarness stores the workflow definitions, the first one being started by
// start, plus a task definition for every TASK node they use.
func newHarness(t *testing.T, definitions ...*models.WorkflowDefinition) *harness {
	t.Helper()

	ctx := context.Background()
	clock := &tickingClock{now: fixedNow}
	store := memory.NewPersistence(memory.WithClock(clock.Now))
	messenger := &recordingMessenger{}

	for _, definition := range definitions {
		require.NoError(t, store.WorkflowDefinitions().Create(ctx, definition))

		for _, taskDefinition := range testutil.TaskDefinitionsFor(definition.Tasks) {
			if existing, _ := store.TaskDefinitions().Get(ctx, taskDefinition.Name); existing != nil {
				continue
			}

			require.NoError(t, store.TaskDefinitions().Create(ctx, taskDefinition))
		}
	}

	e := engine.New(engine.Config{
		Persistence: store,
		Messenger:   messenger,
		Locker:      lock.NewMemoryLocker(lock.Options{}),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         func() time.Time { return fixedNow },
	})

	return &harness{t: t, ctx: ctx, engine: e, store: store, messenger: messenger, main: definitions[0]}
}

func (h *harness) start(input map[string]any) string {
	h.t.Helper()

	transaction, err := h.engine.StartTransaction(h.ctx, engine.StartRequest{
		Workflow: models.WorkflowRef{Name: h.main.Name, Rev: h.main.Rev},
		Input:    input,
	})
	require.NoError(h.t, err)

	h.drain()

	return transaction.TransactionID
}

// drain settles everything the engine queued for itself.
func (h *harness) drain() {
	h.t.Helper()

	for {
		timers := h.messenger.take(models.TimerTypeSystemUpdate, models.TimerTypeSubResult)
		if len(timers) == 0 {
			return
		}

		h.process(timers)
	}
}

// fire delivers the pending timers of the given types as if they were due.
func (h *harness) fire(types ...models.TimerType) {
	h.t.Helper()

	timers := h.messenger.take(types...)
	require.NotEmpty(h.t, timers, "no pending %v timer", types)

	h.process(timers)
	h.drain()
}

func (h *harness) process(timers []models.Timer) {
	h.t.Helper()

	updates := make([]models.TaskUpdate, 0, len(timers))
	for _, timer := range timers {
		updates = append(updates, timer.Update)
	}

	for _, err := range h.engine.ProcessUpdateTasks(h.ctx, updates) {
		require.NoError(h.t, err)
	}
}

func (h *harness) send(update models.TaskUpdate) {
	h.t.Helper()

	require.NoError(h.t, h.engine.ProcessUpdateTask(h.ctx, update))
	h.drain()
}

// task returns the last dispatched task with the given reference name.
func (h *harness) task(ref string) models.Task {
	h.t.Helper()

	h.messenger.mu.Lock()
	defer h.messenger.mu.Unlock()

	for i := len(h.messenger.dispatched) - 1; i >= 0; i-- {
		if h.messenger.dispatched[i].TaskReferenceName == ref {
			return h.messenger.dispatched[i]
		}
	}

	h.t.Fatalf("task %s was never dispatched", ref)

	return models.Task{}
}

func (h *harness) complete(ref string, output map[string]any) {
	h.t.Helper()

	task := h.task(ref)
	h.send(models.TaskUpdate{TaskID: task.TaskID, Status: models.TaskStatusInprogress})
	h.send(models.TaskUpdate{TaskID: task.TaskID, Status: models.TaskStatusCompleted, Output: output})
}

func (h *harness) fail(ref string) {
	h.t.Helper()

	task := h.task(ref)
	h.send(models.TaskUpdate{TaskID: task.TaskID, Status: models.TaskStatusInprogress})
	h.send(models.TaskUpdate{
		TaskID: task.TaskID,
		Status: models.TaskStatusFailed,
		Output: map[string]any{"error": "boom"},
	})
}

func (h *harness) dispatchedRefs() []string {
	h.messenger.mu.Lock()
	defer h.messenger.mu.Unlock()

	refs := make([]string, 0, len(h.messenger.dispatched))
	for _, task := range h.messenger.dispatched {
		refs = append(refs, task.TaskReferenceName)
	}

	return refs
}

func (h *harness) dispatchedTypes() []models.TaskType {
	h.messenger.mu.Lock()
	defer h.messenger.mu.Unlock()

	types := make([]models.TaskType, 0, len(h.messenger.dispatched))
	for _, task := range h.messenger.dispatched {
		types = append(types, task.Type)
	}

	return types
}

func (h *harness) transaction(transactionID string) *models.Transaction {
	h.t.Helper()

	transaction, err := h.store.Transactions().Get(h.ctx, transactionID)
	require.NoError(h.t, err)
	require.NotNil(h.t, transaction)

	return transaction
}

func (h *harness) attempts(transactionID string) []*models.Workflow {
	h.t.Helper()

	workflows, err := h.store.Workflows().ListByTransaction(h.ctx, transactionID)
	require.NoError(h.t, err)

	return workflows
}

func (h *harness) attemptTypes(transactionID string) []models.WorkflowType {
	var types []models.WorkflowType
	for _, workflow := range h.attempts(transactionID) {
		types = append(types, workflow.Type)
	}

	return types
}

// storedTask returns the live task with ref in the given workflow attempt.
func (h *harness) storedTask(workflowID, ref string) *models.Task {
	h.t.Helper()

	tasks, err := h.store.Tasks().ListByWorkflow(h.ctx, workflowID)
	require.NoError(h.t, err)

	task := models.NewTaskData(tasks)[ref]
	require.NotNil(h.t, task, "task %s not found", ref)

	return task
}

func (h *harness) eventsOf(eventType events.EventType) []events.Event {
	h.messenger.mu.Lock()
	defer h.messenger.mu.Unlock()

	var matched []events.Event

	for _, event := range h.messenger.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func isErrorEvent(event events.Event) bool {
	switch e := event.(type) {
	case events.TransactionEvent:
		return e.IsError
	case events.WorkflowEvent:
		return e.IsError
	case events.TaskEvent:
		return e.IsError
	case events.SystemEvent:
		return e.IsError
	default:
		return false
	}
}

func withStrategy(definition *models.WorkflowDefinition, strategy models.FailureStrategy) *models.WorkflowDefinition {
	definition.FailureStrategy = strategy

	return definition
}

func TestEngine_SequentialWorkflow(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowDefinition(testutil.Task("t1"), testutil.Task("t2")))

	txID := h.start(map[string]any{"user": "ana"})
	assert.Equal(t, []string{"t1"}, h.dispatchedRefs())
	assert.Equal(t, models.TransactionStatusRunning, h.transaction(txID).Status)

	h.complete("t1", map[string]any{"ok": true})
	assert.Equal(t, []string{"t1", "t2"}, h.dispatchedRefs())

	h.complete("t2", nil)

	transaction := h.transaction(txID)
	assert.Equal(t, models.TransactionStatusCompleted, transaction.Status)
	assert.False(t, transaction.EndTime.IsZero())

	attempts := h.attempts(txID)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.WorkflowTypeWorkflow, attempts[0].Type)
	assert.Equal(t, models.WorkflowStatusCompleted, attempts[0].Status)

	assert.Len(t, h.eventsOf(events.TransactionCreatedEvent), 1)
	assert.Len(t, h.eventsOf(events.TaskCreatedEvent), 2)
	assert.Len(t, h.eventsOf(events.TransactionUpdatedEvent), 1)
}

func TestEngine_ParallelJoin(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(
		testutil.Task("t1"),
		testutil.Parallel("p1",
			[]models.TaskNode{testutil.Task("a1"), testutil.Task("a2")},
			[]models.TaskNode{testutil.Decision("d", "none", map[string][]models.TaskNode{
				"x": {testutil.Task("x1")},
			}, testutil.Task("d1"))},
		),
		testutil.Task("t3"),
	)
	h := newHarness(t, definition)

	txID := h.start(nil)
	h.complete("t1", nil)
	assert.Equal(t, []string{"t1", "a1", "d1"}, h.dispatchedRefs())

	h.complete("a1", nil)
	assert.Equal(t, []string{"t1", "a1", "d1", "a2"}, h.dispatchedRefs())

	h.complete("d1", nil)
	assert.Equal(t, []string{"t1", "a1", "d1", "a2"}, h.dispatchedRefs(), "join must wait for a2")

	workflowID := h.attempts(txID)[0].WorkflowID
	assert.Equal(t, models.TaskStatusCompleted, h.storedTask(workflowID, "d").Status)
	assert.Equal(t, models.TaskStatusInprogress, h.storedTask(workflowID, "p1").Status)

	h.complete("a2", nil)
	assert.Equal(t, []string{"t1", "a1", "d1", "a2", "t3"}, h.dispatchedRefs())
	assert.Equal(t, models.TaskStatusCompleted, h.storedTask(workflowID, "p1").Status)

	h.complete("t3", nil)
	assert.Equal(t, models.TransactionStatusCompleted, h.transaction(txID).Status)
}

func TestEngine_ParallelFailureWaitsForSiblings(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(
		testutil.Parallel("p1",
			[]models.TaskNode{testutil.Task("a1")},
			[]models.TaskNode{testutil.Task("b1")},
		),
	)
	h := newHarness(t, definition)

	txID := h.start(nil)
	h.fail("a1")
	assert.Equal(t, models.TransactionStatusRunning, h.transaction(txID).Status)

	h.complete("b1", nil)

	assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)
	assert.Equal(t, models.WorkflowStatusFailed, h.attempts(txID)[0].Status)
}

func TestEngine_DecisionSelectsCase(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(
		testutil.Decision("d", "${workflow.input.kind}", map[string][]models.TaskNode{
			"a": {testutil.Task("a1")},
			"b": {testutil.Task("b1")},
		}),
		testutil.Task("t2"),
	)
	h := newHarness(t, definition)

	txID := h.start(map[string]any{"kind": "b"})
	assert.Equal(t, []string{"b1"}, h.dispatchedRefs())

	h.complete("b1", nil)
	assert.Equal(t, []string{"b1", "t2"}, h.dispatchedRefs())

	h.complete("t2", nil)
	assert.Equal(t, models.TransactionStatusCompleted, h.transaction(txID).Status)
}

func TestEngine_DecisionWithoutMatchFails(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(
		testutil.Decision("d", "${workflow.input.kind}", map[string][]models.TaskNode{
			"a": {testutil.Task("a1")},
		}),
	)
	h := newHarness(t, definition)

	txID := h.start(map[string]any{"kind": "z"})

	assert.Empty(t, h.dispatchedRefs())
	assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)

	decision := h.storedTask(h.attempts(txID)[0].WorkflowID, "d")
	assert.Equal(t, models.TaskStatusFailed, decision.Status)
	assert.Contains(t, decision.Output["error"], "no decision case matches")
}

func TestEngine_DuplicateReferenceRejected(t *testing.T) {
	t.Run("in the definition", func(t *testing.T) {
		h := newHarness(t, testutil.CreateTestWorkflowDefinition(testutil.Task("t1"), testutil.Task("t1")))

		txID := h.start(nil)

		assert.Empty(t, h.dispatchedRefs())
		assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)
		assert.Equal(t, models.WorkflowStatusFailed, h.attempts(txID)[0].Status)
		assert.Contains(t, h.transaction(txID).Output["error"], models.ErrDuplicateTaskReference.Error())
	})

	t.Run("without running the failure strategy", func(t *testing.T) {
		definition := withStrategy(
			testutil.CreateTestWorkflowDefinition(testutil.Task("t1"), testutil.Task("t1")),
			models.FailureStrategyRetry,
		)
		h := newHarness(t, definition)

		txID := h.start(nil)

		assert.Empty(t, h.dispatchedRefs())
		assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)
		assert.Len(t, h.attempts(txID), 1)
	})

	t.Run("in a dynamic list", func(t *testing.T) {
		definition := testutil.CreateTestWorkflowDefinition(
			testutil.Task("t1"),
			models.TaskNode{
				Type:              models.TaskTypeDynamicTask,
				TaskReferenceName: "dyn",
				InputParameters: map[string]any{
					"tasks": []any{
						map[string]any{"type": "TASK", "name": "t1", "task_reference_name": "t1"},
					},
				},
			},
		)
		h := newHarness(t, definition)

		txID := h.start(nil)
		h.complete("t1", nil)

		assert.Equal(t, []string{"t1"}, h.dispatchedRefs())
		assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)

		dynamic := h.storedTask(h.attempts(txID)[0].WorkflowID, "dyn")
		assert.Equal(t, models.TaskStatusFailed, dynamic.Status)
		assert.Contains(t, dynamic.Output["error"], models.ErrDuplicateTaskReference.Error())
	})
}

func TestEngine_DynamicTasks(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(
		testutil.Task("t1"),
		models.TaskNode{
			Type:              models.TaskTypeDynamicTask,
			TaskReferenceName: "dyn",
			InputParameters:   map[string]any{"tasks": "${t1.output.tasks}"},
		},
	)
	h := newHarness(t, definition)

	txID := h.start(nil)
	h.complete("t1", map[string]any{
		"tasks": []any{
			map[string]any{"type": "TASK", "name": "t1", "task_reference_name": "x1"},
			map[string]any{"type": "TASK", "name": "t1", "task_reference_name": "x2"},
		},
	})
	assert.Equal(t, []string{"t1", "x1"}, h.dispatchedRefs())

	h.complete("x1", nil)
	assert.Equal(t, []string{"t1", "x1", "x2"}, h.dispatchedRefs())

	h.complete("x2", nil)
	assert.Equal(t, models.TransactionStatusCompleted, h.transaction(txID).Status)
	assert.Equal(t, models.TaskStatusCompleted, h.storedTask(h.attempts(txID)[0].WorkflowID, "dyn").Status)
}

func TestEngine_StaleUpdateEmitsErrorEvent(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowDefinition(testutil.Task("t1"), testutil.Task("t2")))

	h.start(nil)
	h.complete("t1", nil)

	before := len(h.eventsOf(events.TaskUpdatedEvent))

	h.send(models.TaskUpdate{TaskID: h.task("t1").TaskID, Status: models.TaskStatusCompleted})

	updates := h.eventsOf(events.TaskUpdatedEvent)
	require.Len(t, updates, before+1)
	assert.True(t, isErrorEvent(updates[len(updates)-1]))
	assert.Equal(t, []string{"t1", "t2"}, h.dispatchedRefs(), "a duplicate completion must not advance the workflow")
}

func TestEngine_UnknownTaskEmitsErrorEvent(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowDefinition(testutil.Task("t1")))

	require.NoError(t, h.engine.ProcessUpdateTask(h.ctx, models.TaskUpdate{TaskID: "missing", Status: models.TaskStatusCompleted}))

	updates := h.eventsOf(events.TaskUpdatedEvent)
	require.Len(t, updates, 1)
	assert.True(t, isErrorEvent(updates[0]))
}

func TestEngine_MissingTaskDefinitionFailsTask(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(testutil.Task("t1"), testutil.Task("t2", testutil.WithName("unknown")))
	h := newHarness(t, definition)
	require.NoError(t, h.store.TaskDefinitions().Delete(h.ctx, "unknown"))

	txID := h.start(nil)
	h.complete("t1", nil)

	assert.Equal(t, []string{"t1"}, h.dispatchedRefs())
	assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)

	task := h.storedTask(h.attempts(txID)[0].WorkflowID, "t2")
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Output["error"], persistence.ErrDefinitionNotFound.Error())
}

func TestEngine_InputTemplating(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(
		testutil.Task("t1"),
		testutil.Task("t2", testutil.WithInput(map[string]any{
			"amount": "${t1.output.amount}",
			"user":   "${workflow.input.user}",
			"label":  "order for ${workflow.input.user}",
		})),
	)
	h := newHarness(t, definition)

	h.start(map[string]any{"user": "ana"})
	h.complete("t1", map[string]any{"amount": 42})

	input := h.task("t2").Input
	assert.Equal(t, float64(42), input["amount"])
	assert.Equal(t, "ana", input["user"])
	assert.Equal(t, "order for ana", input["label"])
}

func TestEngine_OutputParameters(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(testutil.Task("t1"))
	definition.OutputParameters = map[string]any{"total": "${t1.output.total}"}
	h := newHarness(t, definition)

	txID := h.start(nil)
	h.complete("t1", map[string]any{"total": 7})

	transaction := h.transaction(txID)
	assert.Equal(t, models.TransactionStatusCompleted, transaction.Status)
	assert.Equal(t, map[string]any{"total": float64(7)}, transaction.Output)
}

func TestEngine_InputSchema(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(testutil.Task("t1"))
	definition.InputSchema = map[string]any{
		"type":     "object",
		"required": []any{"user"},
		"properties": map[string]any{
			"user": map[string]any{"type": "string"},
		},
	}
	h := newHarness(t, definition)

	_, err := h.engine.StartTransaction(h.ctx, engine.StartRequest{
		TransactionID: "tx-invalid",
		Workflow:      models.WorkflowRef{Name: definition.Name, Rev: definition.Rev},
		Input:         map[string]any{},
	})
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	stored, err := h.store.Transactions().Get(h.ctx, "tx-invalid")
	require.NoError(t, err)
	assert.Nil(t, stored)

	txID := h.start(map[string]any{"user": "ana"})
	assert.Equal(t, models.TransactionStatusRunning, h.transaction(txID).Status)
}

func TestEngine_StartTransaction(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(testutil.Task("t1"))

	t.Run("duplicate id", func(t *testing.T) {
		h := newHarness(t, definition)
		request := engine.StartRequest{
			TransactionID: "tx-1",
			Workflow:      models.WorkflowRef{Name: definition.Name, Rev: definition.Rev},
		}

		_, err := h.engine.StartTransaction(h.ctx, request)
		require.NoError(t, err)

		_, err = h.engine.StartTransaction(h.ctx, request)
		require.Error(t, err)
		assert.True(t, persistence.IsAlreadyExists(err))
		assert.Equal(t, []string{"t1"}, h.dispatchedRefs())

		created := h.eventsOf(events.TransactionCreatedEvent)
		require.Len(t, created, 2)
		assert.False(t, isErrorEvent(created[0]))
		assert.True(t, isErrorEvent(created[1]))
	})

	t.Run("unknown definition", func(t *testing.T) {
		h := newHarness(t, definition)

		_, err := h.engine.StartTransaction(h.ctx, engine.StartRequest{
			Workflow: models.WorkflowRef{Name: "missing", Rev: "1"},
		})
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
	})

	t.Run("empty workflow completes", func(t *testing.T) {
		h := newHarness(t, testutil.CreateTestWorkflowDefinition())

		txID := h.start(nil)
		assert.Equal(t, models.TransactionStatusCompleted, h.transaction(txID).Status)
	})
}

func TestEngine_Schedule(t *testing.T) {
	t.Run("completed after", func(t *testing.T) {
		definition := testutil.CreateTestWorkflowDefinition(
			models.TaskNode{
				Type:              models.TaskTypeSchedule,
				TaskReferenceName: "wait",
				InputParameters:   map[string]any{"completedAfter": 1500},
			},
			testutil.Task("t1"),
		)
		h := newHarness(t, definition)

		txID := h.start(nil)
		assert.Empty(t, h.dispatchedRefs())

		h.messenger.mu.Lock()
		require.Len(t, h.messenger.timers, 1)
		timer := h.messenger.timers[0]
		h.messenger.mu.Unlock()

		assert.Equal(t, models.TimerTypeScheduleTask, timer.Type)
		assert.True(t, fixedNow.Add(1500*time.Millisecond).Equal(timer.DueAt))

		h.fire(models.TimerTypeScheduleTask)
		assert.Equal(t, []string{"t1"}, h.dispatchedRefs())

		h.complete("t1", nil)
		assert.Equal(t, models.TransactionStatusCompleted, h.transaction(txID).Status)
	})

	t.Run("cron", func(t *testing.T) {
		definition := testutil.CreateTestWorkflowDefinition(
			models.TaskNode{Type: models.TaskTypeSchedule, TaskReferenceName: "wait", Cron: "0 * * * *"},
		)
		h := newHarness(t, definition)

		txID := h.start(nil)

		timers := h.messenger.take(models.TimerTypeScheduleTask)
		require.Len(t, timers, 1)
		assert.True(t, time.Date(2026, time.October, 19, 11, 0, 0, 0, time.UTC).Equal(timers[0].DueAt))

		h.process(timers)
		h.drain()
		assert.Equal(t, models.TransactionStatusCompleted, h.transaction(txID).Status)
	})

	t.Run("invalid cron", func(t *testing.T) {
		definition := testutil.CreateTestWorkflowDefinition(
			models.TaskNode{Type: models.TaskTypeSchedule, TaskReferenceName: "wait", Cron: "every tuesday"},
		)
		h := newHarness(t, definition)

		txID := h.start(nil)
		assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)
	})
}

func TestEngine_AckTimeout(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(testutil.Task("t1"))
	h := newHarness(t, definition)
	require.NoError(t, h.store.TaskDefinitions().Update(h.ctx, &models.TaskDefinition{Name: "t1", AckTimeout: 1000}))

	txID := h.start(nil)

	h.messenger.mu.Lock()
	require.Len(t, h.messenger.timers, 1)
	timer := h.messenger.timers[0]
	h.messenger.mu.Unlock()

	assert.Equal(t, models.TimerTypeAckTimeout, timer.Type)
	assert.True(t, fixedNow.Add(time.Second).Equal(timer.DueAt))

	h.fire(models.TimerTypeAckTimeout)

	assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)
	assert.Equal(t, models.WorkflowStatusTimeout, h.attempts(txID)[0].Status)
}

func TestEngine_AckTimeoutIgnoredOnceAcked(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(testutil.Task("t1"))
	h := newHarness(t, definition)
	require.NoError(t, h.store.TaskDefinitions().Update(h.ctx, &models.TaskDefinition{Name: "t1", AckTimeout: 1000}))

	txID := h.start(nil)
	h.send(models.TaskUpdate{TaskID: h.task("t1").TaskID, Status: models.TaskStatusInprogress})

	h.fire(models.TimerTypeAckTimeout)

	assert.Equal(t, models.TransactionStatusRunning, h.transaction(txID).Status)
	assert.Equal(t, models.TaskStatusInprogress, h.storedTask(h.attempts(txID)[0].WorkflowID, "t1").Status)
}

func TestEngine_ExecutionTimeout(t *testing.T) {
	definition := testutil.CreateTestWorkflowDefinition(testutil.Task("t1"))
	h := newHarness(t, definition)
	require.NoError(t, h.store.TaskDefinitions().Update(h.ctx, &models.TaskDefinition{Name: "t1", Timeout: 2000}))

	txID := h.start(nil)
	h.send(models.TaskUpdate{TaskID: h.task("t1").TaskID, Status: models.TaskStatusInprogress})

	h.fire(models.TimerTypeTimeout)

	assert.Equal(t, models.TransactionStatusFailed, h.transaction(txID).Status)
	assert.Equal(t, models.WorkflowStatusTimeout, h.attempts(txID)[0].Status)
}
