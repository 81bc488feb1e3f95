package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trellis/internal/pubsub"
)

func TestNewPublisher_EnsuresStream(t *testing.T) {
	mockJS := new(MockJetStream)
	mockJS.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "WORKFLOW" && len(cfg.Subjects) == 1 && cfg.Subjects[0] == "workflow.>"
	})).Return(nil, nil)

	pub, err := NewPublisher(mockJS, pubsub.PublisherOptions{
		StreamName:    "WORKFLOW",
		SubjectPrefix: "workflow",
	})

	require.NoError(t, err)
	assert.NotNil(t, pub)
	mockJS.AssertExpectations(t)
}

func TestNewPublisher_NilJetStream(t *testing.T) {
	_, err := NewPublisher(nil, pubsub.PublisherOptions{StreamName: "WORKFLOW"})
	assert.Error(t, err)
}

func TestNewPublisher_StreamError(t *testing.T) {
	mockJS := new(MockJetStream)
	mockJS.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("stream error"))

	_, err := NewPublisher(mockJS, pubsub.PublisherOptions{StreamName: "WORKFLOW"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "stream error")
}

func TestPublish_AppliesSubjectPrefix(t *testing.T) {
	mockJS := new(MockJetStream)
	mockJS.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, nil)
	mockJS.On("Publish", mock.Anything, "workflow.orders.created", []byte("payload")).
		Return(&jetstream.PubAck{Stream: "WORKFLOW"}, nil)

	pub, err := NewPublisher(mockJS, pubsub.PublisherOptions{
		StreamName:    "WORKFLOW",
		SubjectPrefix: "workflow",
	})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "orders.created", []byte("payload"))

	assert.NoError(t, err)
	mockJS.AssertExpectations(t)
}

func TestPublish_ErrorWrapsSubject(t *testing.T) {
	mockJS := new(MockJetStream)
	mockJS.On("Publish", mock.Anything, "orders.created", mock.Anything).
		Return(nil, errors.New("no responders"))

	pub, err := NewPublisher(mockJS, pubsub.PublisherOptions{})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "orders.created", []byte("x"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "orders.created")
	assert.Contains(t, err.Error(), "no responders")
}

func TestPublisher_Close(t *testing.T) {
	pub, err := NewPublisher(new(MockJetStream), pubsub.PublisherOptions{})
	require.NoError(t, err)
	assert.NoError(t, pub.Close())
}
