package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trellis/internal/events"
	pubsubtesting "trellis/internal/pubsub/testing"
)

func TestNewEventConsumer_Defaults(t *testing.T) {
	t.Parallel()

	c := NewEventConsumer(pubsubtesting.NewMockConsumer(), nil, 0, nil)

	assert.Equal(t, 16, c.numWorkers)
	assert.Equal(t, DefaultChannelBufferSize, c.channelBufSize)
	assert.Equal(t, DefaultDrainTimeout, c.drainTimeout)
	assert.Equal(t, DefaultShutdownTimeout, c.shutdownTimeout)
	assert.NotNil(t, c.logger)
}

func TestNewEventConsumer_Options(t *testing.T) {
	t.Parallel()

	c := NewEventConsumer(pubsubtesting.NewMockConsumer(), nil, 4, testLogger(),
		WithChannelBufferSize(5),
		WithDrainTimeout(time.Second),
		WithShutdownTimeout(2*time.Second))

	assert.Equal(t, 4, c.numWorkers)
	assert.Equal(t, 5, c.channelBufSize)
	assert.Equal(t, time.Second, c.drainTimeout)
	assert.Equal(t, 2*time.Second, c.shutdownTimeout)
}

func TestNewEventConsumer_OptionsIgnoreNonPositive(t *testing.T) {
	t.Parallel()

	c := NewEventConsumer(pubsubtesting.NewMockConsumer(), nil, 4, testLogger(),
		WithChannelBufferSize(0),
		WithDrainTimeout(0),
		WithShutdownTimeout(-time.Second))

	assert.Equal(t, DefaultChannelBufferSize, c.channelBufSize)
	assert.Equal(t, DefaultDrainTimeout, c.drainTimeout)
	assert.Equal(t, DefaultShutdownTimeout, c.shutdownTimeout)
}

func TestStart_SubscribeError(t *testing.T) {
	t.Parallel()

	source := pubsubtesting.NewMockConsumer()
	source.SetError(assert.AnError)
	c := NewEventConsumer(source, nil, 2, testLogger())

	err := c.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
}

func TestStart_AcksValidEvents(t *testing.T) {
	t.Parallel()

	source := pubsubtesting.NewMockConsumer()
	e, m := newTestEngine()
	// Collection resolution fails fast, which is enough to drive the event
	// through the full dispatch and evaluation path.
	m.collections.On("GetByName", mock.Anything, "t1", "orders").Return(nil, assert.AnError)

	c := NewEventConsumer(source, e, 2, testLogger(), WithDrainTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, source.IsStarted, time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(testChangeEvent(events.ChangeCreated))
	require.NoError(t, err)
	msg := pubsubtesting.NewMockMessage("TRELLIS_EVENTS.orders", payload)
	source.Send(msg)

	require.Eventually(t, msg.IsAcked, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case startErr := <-done:
		require.NoError(t, startErr)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestStart_TermsMalformedEvents(t *testing.T) {
	t.Parallel()

	source := pubsubtesting.NewMockConsumer()
	e, _ := newTestEngine()
	c := NewEventConsumer(source, e, 2, testLogger(), WithDrainTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, source.IsStarted, time.Second, 10*time.Millisecond)

	msg := pubsubtesting.NewMockMessage("TRELLIS_EVENTS.orders", []byte(`{"eventId":`))
	source.Send(msg)

	require.Eventually(t, msg.IsTermed, time.Second, 10*time.Millisecond)
	assert.False(t, msg.IsAcked())

	cancel()
	select {
	case startErr := <-done:
		require.NoError(t, startErr)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	source := pubsubtesting.NewMockConsumer()
	e, _ := newTestEngine()
	c := NewEventConsumer(source, e, 2, testLogger(), WithDrainTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, source.IsStarted, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case startErr := <-done:
		require.NoError(t, startErr)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain after cancel")
	}
}
