package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/sagaflow/pkg/models"
)

// UpdateProcessor handles task updates for the consumer.
type UpdateProcessor interface {
	// RouteUpdate fills the transaction and workflow ids of update.
	RouteUpdate(ctx context.Context, update models.TaskUpdate) models.TaskUpdate
	// ProcessUpdateTasks handles a batch. The returned slice is aligned with
	// updates; a non-nil entry asks for the update to be tried again.
	ProcessUpdateTasks(ctx context.Context, updates []models.TaskUpdate) []error
}

type ConsumerConfig struct {
	// BatchSize bounds both the updates of one transaction handed over at once
	// and the accepted updates not yet settled.
	BatchSize int
	// RetryDelay is how long a deferred update waits before it is tried again.
	RetryDelay time.Duration
	// AckOnAccept settles a message as soon as its update is queued. Subscribers
	// that hold back the next message until the current one is settled, like
	// the in-process gochannel, need it to process transactions concurrently.
	AckOnAccept bool
}

// UpdateConsumer feeds task updates to the engine. Every transaction gets its
// own lane: updates of one transaction are processed in arrival order, lanes
// of different transactions run concurrently.
type UpdateConsumer struct {
	subscriber  message.Subscriber
	processor   UpdateProcessor
	logger      *slog.Logger
	batchSize   int
	retryDelay  time.Duration
	ackOnAccept bool

	mu    sync.Mutex
	lanes map[string][]delivery
	slots chan struct{}
	wg    sync.WaitGroup
}

type delivery struct {
	msg    *message.Message
	update models.TaskUpdate
}

func NewUpdateConsumer(logger *slog.Logger, subscriber message.Subscriber, processor UpdateProcessor, config ConsumerConfig) *UpdateConsumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}

	return &UpdateConsumer{
		subscriber:  subscriber,
		processor:   processor,
		logger:      logger.With("module", "update_consumer"),
		batchSize:   config.BatchSize,
		retryDelay:  config.RetryDelay,
		ackOnAccept: config.AckOnAccept,
		lanes:       make(map[string][]delivery),
		slots:       make(chan struct{}, config.BatchSize),
	}
}

// Run consumes until ctx is cancelled or the subscription closes, then waits
// for the running lanes to stop.
func (c *UpdateConsumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, UpdatesTopic)
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "Consuming task updates",
		"topic", UpdatesTopic, "batch_size", c.batchSize, "ack_on_accept", c.ackOnAccept)

	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			select {
			case c.slots <- struct{}{}:
			case <-ctx.Done():
				msg.Nack()

				return nil
			}

			c.accept(ctx, msg)
		}
	}
}

func (c *UpdateConsumer) accept(ctx context.Context, msg *message.Message) {
	var update models.TaskUpdate

	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		c.logger.ErrorContext(ctx, "Dropping undecodable task update", "message_id", msg.UUID, "error", err)
		msg.Ack()
		<-c.slots

		return
	}

	update = c.processor.RouteUpdate(ctx, update)

	if c.ackOnAccept {
		msg.Ack()
	}

	key := laneKey(update)

	c.mu.Lock()
	pending, running := c.lanes[key]
	c.lanes[key] = append(pending, delivery{msg: msg, update: update})
	c.mu.Unlock()

	if !running {
		c.wg.Add(1)

		go c.drain(ctx, key)
	}
}

func laneKey(update models.TaskUpdate) string {
	if update.TransactionID != "" {
		return update.TransactionID
	}

	return update.TaskID
}

// drain processes the lane of key batch by batch until it is empty.
func (c *UpdateConsumer) drain(ctx context.Context, key string) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		pending := c.lanes[key]

		if len(pending) == 0 || ctx.Err() != nil {
			delete(c.lanes, key)
			c.mu.Unlock()
			c.abandon(pending)

			return
		}

		batch := pending[:min(len(pending), c.batchSize)]
		c.lanes[key] = pending[len(batch):]
		c.mu.Unlock()

		c.process(ctx, batch)
	}
}

// process hands batch to the engine until every update is settled, trying
// deferred ones again after RetryDelay. The order within the lane is kept.
func (c *UpdateConsumer) process(ctx context.Context, batch []delivery) {
	for len(batch) > 0 {
		updates := make([]models.TaskUpdate, len(batch))
		for i, d := range batch {
			updates[i] = d.update
		}

		errs := c.processor.ProcessUpdateTasks(ctx, updates)

		var deferred []delivery

		for i, d := range batch {
			if i < len(errs) && errs[i] != nil {
				c.logger.WarnContext(ctx, "Task update deferred",
					"task_id", d.update.TaskID, "transaction_id", d.update.TransactionID, "error", errs[i])

				deferred = append(deferred, d)

				continue
			}

			c.settle(d)
		}

		batch = deferred
		if len(batch) == 0 {
			return
		}

		select {
		case <-ctx.Done():
			c.abandon(batch)

			return
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *UpdateConsumer) settle(d delivery) {
	if !c.ackOnAccept {
		d.msg.Ack()
	}

	<-c.slots
}

// abandon hands unsettled messages back to the broker for redelivery.
func (c *UpdateConsumer) abandon(batch []delivery) {
	for _, d := range batch {
		if !c.ackOnAccept {
			d.msg.Nack()
		}

		<-c.slots
	}
}
