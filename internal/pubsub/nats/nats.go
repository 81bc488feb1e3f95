// Package nats implements the pubsub abstraction on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream captures the jetstream.JetStream surface this package uses.
// Narrowing the dependency keeps publishers and consumers mockable.
type JetStream interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// jetStreamNew is a variable to allow mocking in tests.
var jetStreamNew = func(nc *nats.Conn) (jetstream.JetStream, error) {
	return jetstream.New(nc)
}

// Connect dials the NATS server and initializes a JetStream context.
// The caller owns the returned connection and closes it on shutdown.
func Connect(url string) (*nats.Conn, JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	js, err := jetStreamNew(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	return nc, js, nil
}
