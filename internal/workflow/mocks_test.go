package workflow

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockRuleStore
type MockRuleStore struct {
	mock.Mock
}

func (m *MockRuleStore) ActiveByTrigger(ctx context.Context, tenantID, collectionID string, trigger types.TriggerType) ([]types.Rule, error) {
	args := m.Called(ctx, tenantID, collectionID, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Rule), args.Error(1)
}

func (m *MockRuleStore) ActiveScheduled(ctx context.Context) ([]types.Rule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Rule), args.Error(1)
}

func (m *MockRuleStore) Get(ctx context.Context, id string) (*types.Rule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Rule), args.Error(1)
}

func (m *MockRuleStore) UpdateLastScheduledRun(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// MockExecutionLogStore
type MockExecutionLogStore struct {
	mock.Mock
}

func (m *MockExecutionLogStore) Create(ctx context.Context, entry *types.ExecutionLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockExecutionLogStore) Update(ctx context.Context, entry *types.ExecutionLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// MockActionLogStore
type MockActionLogStore struct {
	mock.Mock
}

func (m *MockActionLogStore) Append(ctx context.Context, entry *types.ActionLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// MockPendingActionStore
type MockPendingActionStore struct {
	mock.Mock
}

func (m *MockPendingActionStore) Create(ctx context.Context, pending *types.PendingAction) error {
	args := m.Called(ctx, pending)
	return args.Error(0)
}

func (m *MockPendingActionStore) Due(ctx context.Context, now time.Time) ([]types.PendingAction, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.PendingAction), args.Error(1)
}

func (m *MockPendingActionStore) MarkExecuted(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPendingActionStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

// MockActionTypeStore
type MockActionTypeStore struct {
	mock.Mock
}

func (m *MockActionTypeStore) ActiveTypes(ctx context.Context) ([]types.ActionType, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ActionType), args.Error(1)
}

// MockCollectionResolver
type MockCollectionResolver struct {
	mock.Mock
}

func (m *MockCollectionResolver) GetByName(ctx context.Context, tenantID, name string) (*storage.Collection, error) {
	args := m.Called(ctx, tenantID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Collection), args.Error(1)
}

func (m *MockCollectionResolver) GetByID(ctx context.Context, tenantID, id string) (*storage.Collection, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Collection), args.Error(1)
}

// MockFormula
type MockFormula struct {
	mock.Mock
}

func (m *MockFormula) EvaluateBool(ctx context.Context, expr string, data map[string]any) (bool, error) {
	args := m.Called(ctx, expr, data)
	return args.Bool(0), args.Error(1)
}

// MockActionHandler serves a fixed action type key; Execute and Validate
// are scripted per test.
type MockActionHandler struct {
	mock.Mock
	key string
}

func NewMockActionHandler(key string) *MockActionHandler {
	return &MockActionHandler{key: key}
}

func (m *MockActionHandler) Key() string {
	return m.key
}

func (m *MockActionHandler) Execute(ctx context.Context, in *types.ActionContext) (*types.ActionResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ActionResult), args.Error(1)
}

func (m *MockActionHandler) Validate(config string) error {
	args := m.Called(config)
	return args.Error(0)
}

// engineMocks bundles the engine's collaborators for tests.
type engineMocks struct {
	rules       *MockRuleStore
	execLogs    *MockExecutionLogStore
	actionLogs  *MockActionLogStore
	formula     *MockFormula
	collections *MockCollectionResolver
	registry    *HandlerRegistry
}

// newTestEngine builds an engine over fresh mocks with the given handlers
// registered. Retry waits complete immediately.
func newTestEngine(handlers ...types.ActionHandler) (*Engine, *engineMocks) {
	m := &engineMocks{
		rules:       new(MockRuleStore),
		execLogs:    new(MockExecutionLogStore),
		actionLogs:  new(MockActionLogStore),
		formula:     new(MockFormula),
		collections: new(MockCollectionResolver),
	}
	m.registry = NewHandlerRegistry(handlers, nil, testLogger())
	m.registry.Initialize(context.Background())

	e := NewEngine(Dependencies{
		Rules:         m.rules,
		ExecutionLogs: m.execLogs,
		ActionLogs:    m.actionLogs,
		Registry:      m.registry,
		Formula:       m.formula,
		Collections:   m.collections,
	}, Options{Logger: testLogger()})
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	return e, m
}
