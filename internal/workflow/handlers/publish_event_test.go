package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pubsubtesting "trellis/internal/pubsub/testing"
)

var publishTestTime = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

func newPublishHandler(publisher *pubsubtesting.MockPublisher) *PublishEventHandler {
	h := NewPublishEventHandler(publisher, testLogger())
	h.now = func() time.Time { return publishTestTime }
	return h
}

func TestPublishEventHandler_PublishesEnvelope(t *testing.T) {
	t.Parallel()

	publisher := pubsubtesting.NewMockPublisher()
	h := newPublishHandler(publisher)

	in := actionInput()
	in.Config = `{"subject": "orders.approved", "eventType": "order.approved", "payload": {"region": "eu"}}`

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Successful)

	messages := publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "orders.approved", messages[0].Subject)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(messages[0].Data, &envelope))
	assert.Equal(t, "order.approved", envelope["eventType"])
	assert.Equal(t, "t1", envelope["tenantId"])
	assert.Equal(t, "col-1", envelope["collectionId"])
	assert.Equal(t, "orders", envelope["collectionName"])
	assert.Equal(t, "rec-1", envelope["recordId"])
	assert.Equal(t, "r1", envelope["workflowRuleId"])
	assert.Equal(t, "2026-03-15T10:30:00Z", envelope["timestamp"])
	assert.Equal(t, in.Data, envelope["recordData"])
	assert.Equal(t, map[string]any{"region": "eu"}, envelope["data"])

	assert.Equal(t, "orders.approved", res.Output["subject"])
	assert.Equal(t, "order.approved", res.Output["eventType"])
}

func TestPublishEventHandler_DefaultsEventType(t *testing.T) {
	t.Parallel()

	publisher := pubsubtesting.NewMockPublisher()
	h := newPublishHandler(publisher)

	in := actionInput()
	in.Config = `{"subject": "orders.touched"}`

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, "workflow.custom.event", res.Output["eventType"])

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(publisher.Messages()[0].Data, &envelope))
	assert.Equal(t, "workflow.custom.event", envelope["eventType"])
	_, hasPayload := envelope["data"]
	assert.False(t, hasPayload)
}

func TestPublishEventHandler_MissingSubject(t *testing.T) {
	t.Parallel()

	publisher := pubsubtesting.NewMockPublisher()
	h := newPublishHandler(publisher)

	in := actionInput()
	in.Config = `{"eventType": "order.approved"}`

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Successful)
	assert.Equal(t, "Event 'subject' is required", res.ErrorMessage)
	assert.Empty(t, publisher.Messages())
}

func TestPublishEventHandler_PublishError(t *testing.T) {
	t.Parallel()

	publisher := pubsubtesting.NewMockPublisher()
	publisher.SetError(assert.AnError)
	h := newPublishHandler(publisher)

	in := actionInput()
	in.Config = `{"subject": "orders.approved"}`

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Successful)
	assert.Equal(t, "Failed to publish event: "+assert.AnError.Error(), res.ErrorMessage)
}

func TestPublishEventHandler_Validate(t *testing.T) {
	t.Parallel()

	h := newPublishHandler(pubsubtesting.NewMockPublisher())

	assert.NoError(t, h.Validate(`{"subject": "orders.approved"}`))

	err := h.Validate(`{}`)
	require.Error(t, err)
	assert.Equal(t, "Config must contain 'subject'", err.Error())

	err = h.Validate(`{"subject":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid config JSON")
}
