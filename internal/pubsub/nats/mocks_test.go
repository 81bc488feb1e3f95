package nats

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/mock"
)

// MockJetStream is a mock implementation of the JetStream interface.
type MockJetStream struct {
	mock.Mock
}

func (m *MockJetStream) Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	args := m.Called(ctx, subject, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jetstream.PubAck), args.Error(1)
}

func (m *MockJetStream) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.Stream), args.Error(1)
}

func (m *MockJetStream) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	args := m.Called(ctx, stream, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.Consumer), args.Error(1)
}

// MockConsumer is a mock implementation of jetstream.Consumer. Embedding the
// interface avoids implementing methods the tests never touch.
type MockConsumer struct {
	mock.Mock
	jetstream.Consumer
	handlerCh chan jetstream.MessageHandler
}

func NewMockConsumer() *MockConsumer {
	return &MockConsumer{handlerCh: make(chan jetstream.MessageHandler, 1)}
}

func (m *MockConsumer) Consume(handler jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	args := m.Called(handler)
	if m.handlerCh != nil {
		select {
		case m.handlerCh <- handler:
		default:
		}
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.ConsumeContext), args.Error(1)
}

// HandlerCh returns the handler captured by Consume.
func (m *MockConsumer) HandlerCh() <-chan jetstream.MessageHandler {
	return m.handlerCh
}

// MockConsumeContext is a mock implementation of jetstream.ConsumeContext.
type MockConsumeContext struct {
	mock.Mock
	jetstream.ConsumeContext
}

func (m *MockConsumeContext) Stop() {
	m.Called()
}

// MockMsg is a mock implementation of jetstream.Msg.
type MockMsg struct {
	mock.Mock
	jetstream.Msg
}

func (m *MockMsg) Data() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockMsg) Subject() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMsg) Ack() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMsg) Nak() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMsg) Term() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMsg) Metadata() (*jetstream.MsgMetadata, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jetstream.MsgMetadata), args.Error(1)
}
