package workflow

import (
	"context"
	"time"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// RuleStore provides access to workflow rules.
type RuleStore interface {
	// ActiveByTrigger returns the active rules for one trigger type, scoped
	// to a tenant and collection, ordered by execution order.
	ActiveByTrigger(ctx context.Context, tenantID, collectionID string, trigger types.TriggerType) ([]types.Rule, error)

	// ActiveScheduled returns every active SCHEDULED rule across all tenants.
	ActiveScheduled(ctx context.Context) ([]types.Rule, error)

	// Get returns one rule by id.
	Get(ctx context.Context, id string) (*types.Rule, error)

	// UpdateLastScheduledRun persists the scheduler's watermark for the rule.
	UpdateLastScheduledRun(ctx context.Context, id string, at time.Time) error
}

// ExecutionLogStore persists per-execution audit entries.
type ExecutionLogStore interface {
	Create(ctx context.Context, entry *types.ExecutionLog) error
	Update(ctx context.Context, entry *types.ExecutionLog) error
}

// ActionLogStore persists per-attempt action audit entries.
type ActionLogStore interface {
	Append(ctx context.Context, entry *types.ActionLog) error
}

// PendingActionStore persists deferred rule continuations.
type PendingActionStore interface {
	Create(ctx context.Context, pending *types.PendingAction) error

	// Due returns PENDING actions whose scheduled time has arrived, oldest
	// first.
	Due(ctx context.Context, now time.Time) ([]types.PendingAction, error)

	// MarkExecuted transitions a PENDING action to EXECUTED.
	MarkExecuted(ctx context.Context, id string) error

	// MarkFailed records a failure outcome regardless of current status.
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// ActionTypeStore reads the installed action type catalog.
type ActionTypeStore interface {
	ActiveTypes(ctx context.Context) ([]types.ActionType, error)
}

// CollectionResolver resolves tenant collection references to catalog
// entries.
type CollectionResolver interface {
	GetByName(ctx context.Context, tenantID, name string) (*storage.Collection, error)
	GetByID(ctx context.Context, tenantID, id string) (*storage.Collection, error)
}
