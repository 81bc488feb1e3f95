package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"trellis/internal/pubsub"
)

// jetStreamConsumer implements pubsub.Consumer using NATS JetStream.
type jetStreamConsumer struct {
	js   JetStream
	opts pubsub.ConsumerOptions
}

// NewConsumer creates a new Consumer backed by NATS JetStream.
func NewConsumer(js JetStream, opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}

	return &jetStreamConsumer{js: js, opts: opts}, nil
}

// Subscribe ensures the stream and durable consumer exist, then starts
// delivering messages on the returned channel.
func (c *jetStreamConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	filterSubject := c.opts.FilterSubject
	if filterSubject == "" {
		filterSubject = c.opts.StreamName + ".>"
	}

	storage := jetstream.MemoryStorage
	if c.opts.Storage == pubsub.FileStorage {
		storage = jetstream.FileStorage
	}

	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.opts.StreamName,
		Subjects: []string{filterSubject},
		Storage:  storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	consumerName := c.opts.ConsumerName
	if consumerName == "" {
		consumerName = "consumer"
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: filterSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgCh := make(chan pubsub.Message, c.opts.ChannelBufSize)

	// Track if we're closing to avoid sending to a closed channel
	var closing atomic.Bool

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if closing.Load() {
			msg.Nak()
			return
		}
		select {
		case msgCh <- WrapMessage(msg):
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	slog.Info("Consumer subscribed", "stream", c.opts.StreamName, "consumer", consumerName)

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		close(msgCh)
		slog.Info("Consumer stopped", "stream", c.opts.StreamName)
	}()

	return msgCh, nil
}
