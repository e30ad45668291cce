package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/sagaflow/pkg/cmd"
	"github.com/dukex/sagaflow/pkg/engine"
	"github.com/dukex/sagaflow/pkg/eventbus"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence/memory"
	"github.com/dukex/sagaflow/pkg/testutil"
	"github.com/dukex/sagaflow/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// worker completes every task published on the task topics of refs.
func worker(ctx context.Context, t *testing.T, pubSub *gochannel.GoChannel, publisher timer.Publisher, refs ...string) {
	t.Helper()

	for _, ref := range refs {
		messages, err := pubSub.Subscribe(ctx, eventbus.TaskTopic(ref))
		require.NoError(t, err)

		go func() {
			for msg := range messages {
				var task models.Task
				if err := json.Unmarshal(msg.Payload, &task); err != nil {
					msg.Nack()

					continue
				}

				msg.Ack()

				for _, status := range []models.TaskStatus{models.TaskStatusInprogress, models.TaskStatusCompleted} {
					_ = publisher.PublishUpdate(ctx, models.TaskUpdate{
						TransactionID: task.TransactionID,
						WorkflowID:    task.WorkflowID,
						TaskID:        task.TaskID,
						Status:        status,
						Output:        map[string]any{"by": ref},
					})
				}
			}
		}()
	}
}

func TestService_RunsTransactionToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := memory.NewPersistence()

	definition := testutil.CreateTestWorkflowDefinition(
		testutil.Task("reserve"),
		models.TaskNode{
			Type:              models.TaskTypeSchedule,
			TaskReferenceName: "wait",
			InputParameters:   map[string]any{"completedAfter": 20},
		},
		testutil.Task("charge"),
	)
	require.NoError(t, persistence.WorkflowDefinitions().Create(ctx, definition))

	for _, taskDefinition := range testutil.TaskDefinitionsFor(definition.Tasks) {
		require.NoError(t, persistence.TaskDefinitions().Create(ctx, taskDefinition))
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 100,
		Persistent:          true,
	}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	bus := &cmd.Bus{
		Publisher:  pubSub,
		Subscriber: pubSub,
		Events:     eventbus.NewWatermillEventBus(pubSub, pubSub),
	}

	timers := timer.NewMemoryStore()
	e, messenger := cmd.NewEngine(logger, persistence, bus, lock.NewMemoryLocker(lock.Options{}), timers, nil)

	consumer := eventbus.NewUpdateConsumer(logger, pubSub, e, eventbus.ConsumerConfig{
		BatchSize:   10,
		RetryDelay:  10 * time.Millisecond,
		AckOnAccept: true,
	})
	poller := timer.NewPoller(logger, timers, messenger, 10*time.Millisecond, 10)

	worker(ctx, t, pubSub, messenger, "reserve", "charge")

	done := make(chan error, 1)

	go func() {
		done <- NewService(logger, consumer, poller).Start(ctx)
	}()

	transaction, err := e.StartTransaction(ctx, engine.StartRequest{
		Workflow: models.WorkflowRef{Name: "test_workflow", Rev: "1"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stored, err := persistence.Transactions().Get(ctx, transaction.TransactionID)

		return err == nil && stored != nil && stored.Status == models.TransactionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}
