package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trellis/internal/workflow/types"
)

func newTestValidator(handlers ...types.ActionHandler) *Validator {
	registry := NewHandlerRegistry(handlers, nil, testLogger())
	registry.Initialize(context.Background())
	return NewValidator(registry)
}

func TestValidateAction_Valid(t *testing.T) {
	t.Parallel()

	handler := NewMockActionHandler(types.ActionLogMessage)
	handler.On("Validate", `{"message":"hi"}`).Return(nil)
	v := newTestValidator(handler)

	err := v.ValidateAction(types.ActionLogMessage, `{"message":"hi"}`)

	require.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestValidateAction_UnknownType(t *testing.T) {
	t.Parallel()

	v := newTestValidator()

	err := v.ValidateAction("SEND_PIGEON", "{}")

	require.Error(t, err)
	assert.Equal(t, "Unknown action type: SEND_PIGEON", err.Error())
}

func TestValidateAction_HandlerErrorPassesThrough(t *testing.T) {
	t.Parallel()

	handler := NewMockActionHandler(types.ActionFieldUpdate)
	handler.On("Validate", mock.Anything).Return(errors.New("Config must contain 'fieldUpdates'"))
	v := newTestValidator(handler)

	err := v.ValidateAction(types.ActionFieldUpdate, "{}")

	require.Error(t, err)
	assert.Equal(t, "Config must contain 'fieldUpdates'", err.Error())
}

func TestValidateAction_HandlerPanicBecomesError(t *testing.T) {
	t.Parallel()

	handler := NewMockActionHandler(types.ActionFieldUpdate)
	handler.On("Validate", mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(nil)
	v := newTestValidator(handler)

	err := v.ValidateAction(types.ActionFieldUpdate, "{}")

	require.Error(t, err)
	assert.Equal(t, "validation failed: boom", err.Error())
}

func TestValidateActions_NilForAllValid(t *testing.T) {
	t.Parallel()

	handler := NewMockActionHandler(types.ActionLogMessage)
	handler.On("Validate", mock.Anything).Return(nil)
	v := newTestValidator(handler)

	errs := v.ValidateActions([]types.Action{
		testAction("a1", types.ActionLogMessage, 1),
		testAction("a2", types.ActionLogMessage, 2),
	})

	assert.Nil(t, errs)
}

func TestValidateActions_EmptyList(t *testing.T) {
	t.Parallel()

	v := newTestValidator()

	assert.Nil(t, v.ValidateActions(nil))
}

func TestValidateActions_PositionsAreOneBased(t *testing.T) {
	t.Parallel()

	logMessage := NewMockActionHandler(types.ActionLogMessage)
	logMessage.On("Validate", mock.Anything).Return(nil)
	fieldUpdate := NewMockActionHandler(types.ActionFieldUpdate)
	fieldUpdate.On("Validate", mock.Anything).Return(errors.New("Config must contain 'fieldUpdates'"))
	v := newTestValidator(logMessage, fieldUpdate)

	errs := v.ValidateActions([]types.Action{
		testAction("a1", types.ActionLogMessage, 1),
		testAction("a2", types.ActionFieldUpdate, 2),
		testAction("a3", "SEND_PIGEON", 3),
	})

	require.Len(t, errs, 2)
	assert.Equal(t, "Action 2: Config must contain 'fieldUpdates'", errs[0])
	assert.Equal(t, "Action 3: Unknown action type: SEND_PIGEON", errs[1])
}
