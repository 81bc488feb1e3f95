package handlers

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// actionInput returns a representative update context for handler tests.
func actionInput() *types.ActionContext {
	return &types.ActionContext{
		TenantID:       "t1",
		RuleID:         "r1",
		ExecutionLogID: "exec-1",
		CollectionID:   "col-1",
		CollectionName: "orders",
		RecordID:       "rec-1",
		Data: map[string]any{
			"status": "open",
			"customer": map[string]any{
				"email": "kim@example.com",
			},
		},
		ChangedFields: []string{"status"},
		UserID:        "user-1",
		ActionOrder:   1,
	}
}

type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) Get(ctx context.Context, tenantID, collection, recordID string) (*storage.Document, error) {
	args := m.Called(ctx, tenantID, collection, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Document), args.Error(1)
}

func (m *MockDocumentStore) Create(ctx context.Context, tenantID string, doc *storage.Document) error {
	args := m.Called(ctx, tenantID, doc)
	return args.Error(0)
}

func (m *MockDocumentStore) Patch(ctx context.Context, tenantID, collection, recordID string, data map[string]any) error {
	args := m.Called(ctx, tenantID, collection, recordID, data)
	return args.Error(0)
}

type MockPendingStore struct {
	mock.Mock
}

func (m *MockPendingStore) Create(ctx context.Context, pending *types.PendingAction) error {
	args := m.Called(ctx, pending)
	return args.Error(0)
}

type MockTokenSource struct {
	mock.Mock
}

func (m *MockTokenSource) GenerateSystemToken(serviceName string) (string, error) {
	args := m.Called(serviceName)
	return args.String(0), args.Error(1)
}
