package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	channels "github.com/dukex/sagaflow/pkg/channels/gochannel"
	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 100,
		Persistent:          true,
	}, watermill.NopLogger{})

	t.Cleanup(func() { _ = pubSub.Close() })

	return pubSub
}

type recordingProcessor struct {
	mu      sync.Mutex
	seen    []string
	failFor map[string]int
}

func (p *recordingProcessor) RouteUpdate(_ context.Context, update models.TaskUpdate) models.TaskUpdate {
	return update
}

func (p *recordingProcessor) ProcessUpdateTasks(_ context.Context, updates []models.TaskUpdate) []error {
	p.mu.Lock()
	defer p.mu.Unlock()

	errs := make([]error, len(updates))

	for i, update := range updates {
		p.seen = append(p.seen, update.TaskID)

		if p.failFor[update.TaskID] > 0 {
			p.failFor[update.TaskID]--
			errs[i] = errors.New("lock not acquired")
		}
	}

	return errs
}

func (p *recordingProcessor) count(taskID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0

	for _, seen := range p.seen {
		if seen == taskID {
			n++
		}
	}

	return n
}

func TestMessenger_Dispatch(t *testing.T) {
	ctx := context.Background()
	pubSub := newPubSub(t)
	messenger := NewMessenger(slog.Default(), pubSub, NewWatermillEventBus(pubSub, pubSub), timer.NewMemoryStore())

	messages, err := pubSub.Subscribe(ctx, TaskTopic("charge"))
	require.NoError(t, err)

	task := &models.Task{TaskID: "task-1", TaskName: "charge", TransactionID: "tx-1", Status: models.TaskStatusScheduled}
	require.NoError(t, messenger.Dispatch(ctx, task))

	select {
	case msg := <-messages:
		var received models.Task

		require.NoError(t, json.Unmarshal(msg.Payload, &received))
		assert.Equal(t, "task-1", received.TaskID)
		assert.Equal(t, "tx-1", msg.Metadata.Get(TransactionIDMetadataKey))
		assert.Equal(t, "tx-1", msg.Metadata.Get(events.EventMetadataKey))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("task was not dispatched")
	}
}

func TestMessenger_SendTimer(t *testing.T) {
	store := timer.NewMemoryStore()
	pubSub := newPubSub(t)
	messenger := NewMessenger(slog.Default(), pubSub, NewWatermillEventBus(pubSub, pubSub), store)

	err := messenger.SendTimer(context.Background(), models.NewTimer("timer-1", models.TimerTypeAckTimeout, time.Minute,
		models.TaskUpdate{TaskID: "task-1", Status: models.TaskStatusAckTimeout}))

	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestMessenger_SendEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := newPubSub(t)
	bus := NewWatermillEventBus(pubSub, pubSub)
	messenger := NewMessenger(slog.Default(), pubSub, bus, timer.NewMemoryStore())

	received := make(chan any, 1)

	require.NoError(t, bus.Handle(events.TaskUpdatedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	update := models.TaskUpdate{TransactionID: "tx-1", TaskID: "task-1", Status: models.TaskStatusCompleted}
	require.NoError(t, messenger.SendEvent(ctx, events.NewTaskUpdated(update, &models.Task{TaskID: "task-1"}, nil)))

	select {
	case event := <-received:
		taskEvent, ok := event.(*events.TaskEvent)
		require.True(t, ok)
		assert.Equal(t, "tx-1", taskEvent.TransactionID)
		assert.Equal(t, "task-1", taskEvent.Task.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestUpdateConsumer_RetriesDeferredUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pubSub := newPubSub(t)
	processor := &recordingProcessor{failFor: map[string]int{"b": 1}}
	consumer := NewUpdateConsumer(slog.Default(), pubSub, processor, ConsumerConfig{BatchSize: 10, RetryDelay: 10 * time.Millisecond})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, PublishUpdate(ctx, pubSub, models.TaskUpdate{TransactionID: "tx-1", TaskID: id}))
	}

	done := make(chan error, 1)

	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return processor.count("a") == 1 && processor.count("b") == 2 && processor.count("c") == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestUpdateConsumer_DropsUndecodableUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pubSub := newPubSub(t)
	processor := &recordingProcessor{}
	consumer := NewUpdateConsumer(slog.Default(), pubSub, processor, ConsumerConfig{BatchSize: 10})

	require.NoError(t, pubSub.Publish(UpdatesTopic, message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	require.NoError(t, PublishUpdate(ctx, pubSub, models.TaskUpdate{TransactionID: "tx-1", TaskID: "a"}))

	done := make(chan error, 1)

	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return processor.count("a") == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	assert.Equal(t, []string{"a"}, processor.seen)
}

func TestUpdateConsumer_KeepsTransactionOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ids := []string{"a", "b", "c", "d", "e"}
	subscriber := &stubSubscriber{messages: make(chan *message.Message, len(ids))}

	for _, id := range ids {
		subscriber.messages <- updateMessage(t, models.TaskUpdate{TransactionID: "tx-1", TaskID: id})
	}

	processor := &recordingProcessor{}
	consumer := NewUpdateConsumer(slog.Default(), subscriber, processor, ConsumerConfig{BatchSize: 2, AckOnAccept: true})

	done := make(chan error, 1)

	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return processor.count("e") == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	assert.Equal(t, ids, processor.seen)
}

// barrierProcessor blocks every call until size calls run at the same time.
type barrierProcessor struct {
	size    int
	mu      sync.Mutex
	running int
	reached chan struct{}
	once    sync.Once
	done    []string
}

func (p *barrierProcessor) RouteUpdate(_ context.Context, update models.TaskUpdate) models.TaskUpdate {
	return update
}

func (p *barrierProcessor) ProcessUpdateTasks(_ context.Context, updates []models.TaskUpdate) []error {
	p.mu.Lock()
	p.running++
	if p.running == p.size {
		p.once.Do(func() { close(p.reached) })
	}
	p.mu.Unlock()

	select {
	case <-p.reached:
	case <-time.After(2 * time.Second):
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, update := range updates {
		p.done = append(p.done, update.TransactionID)
	}

	return make([]error, len(updates))
}

func TestUpdateConsumer_ProcessesTransactionsConcurrently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := channels.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	subscribed := &notifyingSubscriber{Subscriber: sub, subscribed: make(chan struct{})}
	processor := &barrierProcessor{size: 5, reached: make(chan struct{})}
	consumer := NewUpdateConsumer(slog.Default(), subscribed, processor, ConsumerConfig{BatchSize: 5, AckOnAccept: true})

	done := make(chan error, 1)

	go func() { done <- consumer.Run(ctx) }()

	// the in-process channel drops messages published before the subscription exists
	<-subscribed.subscribed

	for i := range 5 {
		update := models.TaskUpdate{TransactionID: fmt.Sprintf("tx-%d", i), TaskID: fmt.Sprintf("task-%d", i)}
		require.NoError(t, PublishUpdate(ctx, pub, update))
	}

	select {
	case <-processor.reached:
	case <-time.After(time.Second):
		t.Fatal("transactions were processed one at a time")
	}

	require.Eventually(t, func() bool {
		processor.mu.Lock()
		defer processor.mu.Unlock()

		return len(processor.done) == 5
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

type notifyingSubscriber struct {
	message.Subscriber
	subscribed chan struct{}
}

func (s *notifyingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	messages, err := s.Subscriber.Subscribe(ctx, topic)
	close(s.subscribed)

	return messages, err
}

type stubSubscriber struct {
	messages chan *message.Message
}

func (s *stubSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return s.messages, nil
}

func (s *stubSubscriber) Close() error { return nil }

// blockingProcessor holds every call until release is closed.
type blockingProcessor struct {
	entered chan struct{}
	release chan struct{}
	fail    bool
}

func (p *blockingProcessor) RouteUpdate(_ context.Context, update models.TaskUpdate) models.TaskUpdate {
	return update
}

func (p *blockingProcessor) ProcessUpdateTasks(_ context.Context, updates []models.TaskUpdate) []error {
	select {
	case p.entered <- struct{}{}:
	default:
	}

	<-p.release

	errs := make([]error, len(updates))
	if p.fail {
		for i := range errs {
			errs[i] = errors.New("lock not acquired")
		}
	}

	return errs
}

func updateMessage(t *testing.T, update models.TaskUpdate) *message.Message {
	t.Helper()

	payload, err := json.Marshal(update)
	require.NoError(t, err)

	return message.NewMessage(watermill.NewUUID(), payload)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestUpdateConsumer_AcksAfterProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscriber := &stubSubscriber{messages: make(chan *message.Message, 1)}
	processor := &blockingProcessor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	consumer := NewUpdateConsumer(slog.Default(), subscriber, processor, ConsumerConfig{BatchSize: 1})

	msg := updateMessage(t, models.TaskUpdate{TransactionID: "tx-1", TaskID: "a"})
	subscriber.messages <- msg

	go func() { _ = consumer.Run(ctx) }()

	<-processor.entered
	assert.False(t, isClosed(msg.Acked()), "acked before the engine finished")

	close(processor.release)

	require.Eventually(t, func() bool { return isClosed(msg.Acked()) }, 5*time.Second, 5*time.Millisecond)
}

func TestUpdateConsumer_AckOnAccept(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscriber := &stubSubscriber{messages: make(chan *message.Message, 1)}
	processor := &blockingProcessor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	consumer := NewUpdateConsumer(slog.Default(), subscriber, processor, ConsumerConfig{BatchSize: 1, AckOnAccept: true})

	msg := updateMessage(t, models.TaskUpdate{TransactionID: "tx-1", TaskID: "a"})
	subscriber.messages <- msg

	go func() { _ = consumer.Run(ctx) }()

	<-processor.entered
	assert.True(t, isClosed(msg.Acked()))

	close(processor.release)
}

func TestUpdateConsumer_NacksDeferredUpdatesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	subscriber := &stubSubscriber{messages: make(chan *message.Message, 1)}
	processor := &blockingProcessor{entered: make(chan struct{}, 1), release: make(chan struct{}), fail: true}
	close(processor.release)

	consumer := NewUpdateConsumer(slog.Default(), subscriber, processor, ConsumerConfig{BatchSize: 1, RetryDelay: time.Hour})

	msg := updateMessage(t, models.TaskUpdate{TransactionID: "tx-1", TaskID: "a"})
	subscriber.messages <- msg

	done := make(chan error, 1)

	go func() { done <- consumer.Run(ctx) }()

	<-processor.entered
	cancel()

	require.NoError(t, <-done)
	assert.True(t, isClosed(msg.Nacked()))
	assert.False(t, isClosed(msg.Acked()))
}

func TestWatermillEventBus_HandleRejectsUnknownType(t *testing.T) {
	pubSub := newPubSub(t)
	bus := NewWatermillEventBus(pubSub, pubSub)

	require.Error(t, bus.Handle(events.EventType("task.exploded"), func(context.Context, any) error { return nil }))
	require.NoError(t, bus.Handle(events.SystemErrorEvent, func(context.Context, any) error { return nil }))
}
