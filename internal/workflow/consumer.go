package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trellis/internal/events"
	"trellis/internal/pubsub"
)

// DefaultChannelBufferSize is the default buffer size for worker channels.
const DefaultChannelBufferSize = 100

// Default shutdown windows for the consumer.
const (
	DefaultDrainTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// EventConsumer pulls record change events off the stream and feeds them to
// the engine. Events shard across worker channels by tenant and record so
// one record's events evaluate in order.
type EventConsumer struct {
	consumer       pubsub.Consumer
	engine         *Engine
	numWorkers     int
	channelBufSize int
	workerChans    []chan pubsub.Message
	wg             sync.WaitGroup
	logger         *slog.Logger

	// Shutdown coordination
	closing         atomic.Bool  // Marks closing state
	inFlightCount   atomic.Int32 // Count of messages currently in dispatch()
	drainTimeout    time.Duration
	shutdownTimeout time.Duration
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*EventConsumer)

// WithChannelBufferSize sets the buffer size for worker channels.
func WithChannelBufferSize(size int) ConsumerOption {
	return func(c *EventConsumer) {
		if size > 0 {
			c.channelBufSize = size
		}
	}
}

// WithDrainTimeout sets the drain timeout for graceful shutdown.
// This is the maximum time to wait for in-flight dispatch() calls to complete.
func WithDrainTimeout(d time.Duration) ConsumerOption {
	return func(c *EventConsumer) {
		if d > 0 {
			c.drainTimeout = d
		}
	}
}

// WithShutdownTimeout sets the overall shutdown timeout.
// This is the maximum time to wait for workers to finish processing.
func WithShutdownTimeout(d time.Duration) ConsumerOption {
	return func(c *EventConsumer) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// NewEventConsumer creates a consumer wrapping a pubsub.Consumer.
func NewEventConsumer(consumer pubsub.Consumer, engine *Engine, numWorkers int, logger *slog.Logger, opts ...ConsumerOption) *EventConsumer {
	if numWorkers <= 0 {
		numWorkers = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &EventConsumer{
		consumer:        consumer,
		engine:          engine,
		numWorkers:      numWorkers,
		channelBufSize:  DefaultChannelBufferSize,
		logger:          logger.With("component", "workflow.consumer"),
		drainTimeout:    DefaultDrainTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins consuming events. It blocks until the context is cancelled.
func (c *EventConsumer) Start(ctx context.Context) error {
	// Subscribe to messages (stream/consumer creation handled by pubsub.Consumer)
	msgCh, err := c.consumer.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	// Initialize Worker Pool
	c.workerChans = make([]chan pubsub.Message, c.numWorkers)
	for i := 0; i < c.numWorkers; i++ {
		c.workerChans[i] = make(chan pubsub.Message, c.channelBufSize)
		c.wg.Add(1)
		go c.workerLoop(ctx, i)
	}

	c.logger.Info("Workflow event consumer started, waiting for events", "num_workers", c.numWorkers)

	// Message loop
	for msg := range msgCh {
		c.dispatch(msg)
	}
	// Channel closed means context is cancelled, proceed to shutdown

	// Phase 1: Stop accepting new messages (already done - channel closed)
	c.logger.Info("Stopping workflow event consumer...")
	c.closing.Store(true)

	// Phase 2: Wait for in-flight dispatches to complete
	drainCtx, drainCancel := context.WithTimeout(context.Background(), c.drainTimeout)
	defer drainCancel()
	c.waitForDrain(drainCtx)

	// Phase 3: Close worker channels
	for _, ch := range c.workerChans {
		close(ch)
	}

	// Phase 4: Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		c.logger.Info("All workflow workers stopped gracefully")
	case <-shutdownCtx.Done():
		c.logger.Warn("Shutdown timeout exceeded, some workers may still be running")
	}

	return nil
}

// waitForDrain waits for all in-flight dispatch() calls to complete.
func (c *EventConsumer) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			remaining := c.inFlightCount.Load()
			if remaining > 0 {
				c.logger.Warn("Drain timeout, events still in-flight", "remaining", remaining)
			}
			return
		case <-ticker.C:
			if c.inFlightCount.Load() == 0 {
				c.logger.Info("All in-flight events drained")
				return
			}
		}
	}
}

// dispatch routes a message to the worker owning its tenant+record shard.
// Per-record ordering holds as long as producers publish in commit order.
func (c *EventConsumer) dispatch(msg pubsub.Message) {
	// Track in-flight count for graceful shutdown
	c.inFlightCount.Add(1)
	defer c.inFlightCount.Add(-1)

	// Consumer is closing - NAK message for redelivery
	if c.closing.Load() {
		c.logger.Warn("Consumer is closing, NAK message for redelivery")
		msg.Nak()
		return
	}

	var event events.ChangeEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.logger.Error("Invalid event payload in dispatch", "error", err)
		msg.Term()
		return
	}

	h := fnv.New32a()
	h.Write([]byte(event.TenantID))
	h.Write([]byte(event.RecordID))
	workerIdx := int(h.Sum32() % uint32(c.numWorkers))

	c.workerChans[workerIdx] <- msg
}

func (c *EventConsumer) workerLoop(ctx context.Context, id int) {
	defer c.wg.Done()

	for msg := range c.workerChans[id] {
		var event events.ChangeEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			c.logger.Error("Invalid event payload", "worker_id", id, "error", err)
			msg.Term()
			continue
		}

		// Evaluate never fails: rule errors land in the execution logs, so
		// every parseable event acks exactly once.
		c.engine.Evaluate(ctx, &event)
		msg.Ack()
	}
}
