package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pubsubtesting "trellis/internal/pubsub/testing"
	"trellis/internal/workflow/types"
)

func TestBuiltIn_CoversAllActionTypes(t *testing.T) {
	t.Parallel()

	deps := Dependencies{
		Documents: &MockDocumentStore{},
		Pending:   &MockPendingStore{},
		Publisher: pubsubtesting.NewMockPublisher(),
		Tokens:    &MockTokenSource{},
		Logger:    testLogger(),
	}

	suite := BuiltIn(deps, Options{CalloutTimeout: time.Second})

	keys := make([]string, 0, len(suite))
	for _, h := range suite {
		keys = append(keys, h.Key())
	}

	assert.Equal(t, []string{
		types.ActionLogMessage,
		types.ActionFieldUpdate,
		types.ActionCreateRecord,
		types.ActionHTTPCallout,
		types.ActionDelay,
		types.ActionPublishEvent,
	}, keys)
}

func TestParseValidateConfig_WrapsJSONErrors(t *testing.T) {
	t.Parallel()

	_, err := parseValidateConfig(`{"message":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid config JSON")
}

func TestStringValue(t *testing.T) {
	t.Parallel()

	config := map[string]any{
		"subject": "  orders.approved  ",
		"count":   float64(3),
	}

	assert.Equal(t, "orders.approved", stringValue(config, "subject"))
	assert.Equal(t, "", stringValue(config, "count"))
	assert.Equal(t, "", stringValue(config, "missing"))
}

func TestNestedValue(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"status": "open",
		"aggregations": map[string]any{
			"total_spent": 125.5,
		},
	}

	assert.Equal(t, "open", nestedValue(data, "status"))
	assert.Equal(t, 125.5, nestedValue(data, "aggregations.total_spent"))
	assert.Nil(t, nestedValue(data, "aggregations.missing"))
	assert.Nil(t, nestedValue(data, "status.nested"))
	assert.Nil(t, nestedValue(nil, "status"))
	assert.Nil(t, nestedValue(data, ""))
}
