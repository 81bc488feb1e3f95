package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trellis/internal/storage"
)

func TestFieldUpdateHandler_PatchesRecord(t *testing.T) {
	t.Parallel()

	store := &MockDocumentStore{}
	h := NewFieldUpdateHandler(store, testLogger())

	in := actionInput()
	in.Config = `{"updates": [
		{"field": "status", "value": "Approved"},
		{"field": "reviewerEmail", "sourceField": "customer.email"}
	]}`

	var patched map[string]any
	store.On("Patch", mock.Anything, "t1", "orders", "rec-1", mock.Anything).
		Run(func(args mock.Arguments) {
			patched = args.Get(4).(map[string]any)
		}).
		Return(nil)

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Successful)

	assert.Equal(t, map[string]any{
		"status":        "Approved",
		"reviewerEmail": "kim@example.com",
	}, patched)
	assert.Equal(t, patched, res.Output["updatedFields"])
	assert.Equal(t, "rec-1", res.Output["recordId"])
	store.AssertExpectations(t)
}

func TestFieldUpdateHandler_BeforeSaveComputesWithoutStore(t *testing.T) {
	t.Parallel()

	store := &MockDocumentStore{}
	h := NewFieldUpdateHandler(store, testLogger())

	in := actionInput()
	in.BeforeSave = true
	in.Config = `{"updates": [{"field": "status", "value": "Approved"}]}`

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, map[string]any{"status": "Approved"}, res.Output["updatedFields"])
	store.AssertNotCalled(t, "Patch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFieldUpdateHandler_NoRecordComputesWithoutStore(t *testing.T) {
	t.Parallel()

	store := &MockDocumentStore{}
	h := NewFieldUpdateHandler(store, testLogger())

	in := actionInput()
	in.RecordID = ""
	in.Config = `{"updates": [{"field": "status", "value": "Approved"}]}`

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, map[string]any{"status": "Approved"}, res.Output["updatedFields"])
	store.AssertNotCalled(t, "Patch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFieldUpdateHandler_SkipsMalformedUpdates(t *testing.T) {
	t.Parallel()

	store := &MockDocumentStore{}
	h := NewFieldUpdateHandler(store, testLogger())

	in := actionInput()
	in.Config = `{"updates": [
		"not-an-object",
		{"value": "orphaned"},
		{"field": "status", "value": "Approved"}
	]}`

	var patched map[string]any
	store.On("Patch", mock.Anything, "t1", "orders", "rec-1", mock.Anything).
		Run(func(args mock.Arguments) {
			patched = args.Get(4).(map[string]any)
		}).
		Return(nil)

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, map[string]any{"status": "Approved"}, patched)
}

func TestFieldUpdateHandler_RecordNotFound(t *testing.T) {
	t.Parallel()

	store := &MockDocumentStore{}
	h := NewFieldUpdateHandler(store, testLogger())

	in := actionInput()
	in.Config = `{"updates": [{"field": "status", "value": "Approved"}]}`

	store.On("Patch", mock.Anything, "t1", "orders", "rec-1", mock.Anything).
		Return(storage.ErrNotFound)

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Successful)
	assert.Equal(t, "Record not found: rec-1 in collection orders", res.ErrorMessage)
}

func TestFieldUpdateHandler_PatchError(t *testing.T) {
	t.Parallel()

	store := &MockDocumentStore{}
	h := NewFieldUpdateHandler(store, testLogger())

	in := actionInput()
	in.Config = `{"updates": [{"field": "status", "value": "Approved"}]}`

	store.On("Patch", mock.Anything, "t1", "orders", "rec-1", mock.Anything).
		Return(assert.AnError)

	res, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Successful)
	assert.Equal(t, "Failed to update record: "+assert.AnError.Error(), res.ErrorMessage)
}

func TestFieldUpdateHandler_NoUpdatesDefined(t *testing.T) {
	t.Parallel()

	h := NewFieldUpdateHandler(&MockDocumentStore{}, testLogger())

	for _, config := range []string{`{}`, `{"updates": []}`, `{"updates": "nope"}`} {
		in := actionInput()
		in.Config = config

		res, err := h.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.False(t, res.Successful)
		assert.Equal(t, "No updates defined", res.ErrorMessage)
	}
}

func TestFieldUpdateHandler_Validate(t *testing.T) {
	t.Parallel()

	h := NewFieldUpdateHandler(&MockDocumentStore{}, testLogger())

	assert.NoError(t, h.Validate(`{"updates": [{"field": "status", "value": "x"}]}`))

	err := h.Validate(`{}`)
	require.Error(t, err)
	assert.Equal(t, "Config must contain 'updates' array", err.Error())

	err = h.Validate(`{"updates": []}`)
	require.Error(t, err)
	assert.Equal(t, "'updates' must not be empty", err.Error())

	err = h.Validate(`{"updates":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid config JSON")
}
