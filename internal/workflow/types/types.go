// Package types defines the workflow domain model: rules, actions, their
// audit trail, and the handler contract action implementations satisfy.
package types

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// TriggerType classifies what causes a rule to run.
type TriggerType string

const (
	TriggerOnCreate         TriggerType = "ON_CREATE"
	TriggerOnUpdate         TriggerType = "ON_UPDATE"
	TriggerOnDelete         TriggerType = "ON_DELETE"
	TriggerOnCreateOrUpdate TriggerType = "ON_CREATE_OR_UPDATE"
	TriggerBeforeCreate     TriggerType = "BEFORE_CREATE"
	TriggerBeforeUpdate     TriggerType = "BEFORE_UPDATE"
	TriggerScheduled        TriggerType = "SCHEDULED"
	TriggerManual           TriggerType = "MANUAL"
)

// IsValid checks if the trigger type is a known valid type.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerOnCreate, TriggerOnUpdate, TriggerOnDelete, TriggerOnCreateOrUpdate,
		TriggerBeforeCreate, TriggerBeforeUpdate, TriggerScheduled, TriggerManual:
		return true
	default:
		return false
	}
}

// ErrorHandling controls how a rule reacts to a failing action.
type ErrorHandling string

const (
	StopOnError     ErrorHandling = "STOP_ON_ERROR"
	ContinueOnError ErrorHandling = "CONTINUE_ON_ERROR"
)

// BackoffStrategy selects how retry waits grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "FIXED"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
)

// ExecutionStatus is the lifecycle state of an execution or action log entry.
type ExecutionStatus string

const (
	StatusExecuting      ExecutionStatus = "EXECUTING"
	StatusSuccess        ExecutionStatus = "SUCCESS"
	StatusFailure        ExecutionStatus = "FAILURE"
	StatusPartialFailure ExecutionStatus = "PARTIAL_FAILURE"
)

// PendingStatus is the lifecycle state of a deferred action.
type PendingStatus string

const (
	PendingStatusPending  PendingStatus = "PENDING"
	PendingStatusExecuted PendingStatus = "EXECUTED"
	PendingStatusFailed   PendingStatus = "FAILED"
)

// Well-known action type keys for the built-in handlers.
const (
	ActionLogMessage   = "LOG_MESSAGE"
	ActionFieldUpdate  = "FIELD_UPDATE"
	ActionCreateRecord = "CREATE_RECORD"
	ActionHTTPCallout  = "HTTP_CALLOUT"
	ActionDelay        = "DELAY"
	ActionPublishEvent = "PUBLISH_EVENT"
)

// Rule is a tenant-defined automation: a trigger, optional filters, and an
// ordered list of actions.
type Rule struct {
	ID           string `bson:"_id" json:"id"`
	TenantID     string `bson:"tenant_id" json:"tenantId"`
	CollectionID string `bson:"collection_id,omitempty" json:"collectionId,omitempty"`
	Name         string `bson:"name" json:"name"`
	Description  string `bson:"description,omitempty" json:"description,omitempty"`
	Active       bool   `bson:"active" json:"active"`

	TriggerType TriggerType `bson:"trigger_type" json:"triggerType"`

	// FilterFormula is a boolean expression over record fields. Blank
	// means the rule matches every event that passes its trigger.
	FilterFormula string `bson:"filter_formula,omitempty" json:"filterFormula,omitempty"`

	// TriggerFields is a JSON string array naming the fields whose change
	// should fire this rule. Blank or malformed means no field filter.
	TriggerFields string `bson:"trigger_fields,omitempty" json:"triggerFields,omitempty"`

	ErrorHandling ErrorHandling `bson:"error_handling,omitempty" json:"errorHandling,omitempty"`

	// Scheduling, used only by SCHEDULED rules.
	CronExpression   string     `bson:"cron_expression,omitempty" json:"cronExpression,omitempty"`
	Timezone         string     `bson:"timezone,omitempty" json:"timezone,omitempty"`
	LastScheduledRun *time.Time `bson:"last_scheduled_run,omitempty" json:"lastScheduledRun,omitempty"`

	ExecutionOrder int      `bson:"execution_order" json:"executionOrder"`
	Actions        []Action `bson:"actions,omitempty" json:"actions,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// ActiveActions returns the rule's active actions sorted by execution order.
// Ties keep their configured relative order.
func (r *Rule) ActiveActions() []Action {
	active := make([]Action, 0, len(r.Actions))
	for _, a := range r.Actions {
		if a.Active {
			active = append(active, a)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].ExecutionOrder < active[j].ExecutionOrder
	})
	return active
}

// ParsedTriggerFields decodes the trigger-field allowlist. Blank and
// malformed values both yield nil, which callers treat as no filter.
func (r *Rule) ParsedTriggerFields() []string {
	raw := strings.TrimSpace(r.TriggerFields)
	if raw == "" {
		return nil
	}
	var fields []string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil
	}
	return fields
}

// Action is one configured step of a rule.
type Action struct {
	ID         string `bson:"id" json:"id"`
	ActionType string `bson:"action_type" json:"actionType"`

	// Config is handler-specific JSON, opaque to the engine.
	Config string `bson:"config,omitempty" json:"config,omitempty"`

	Active         bool `bson:"active" json:"active"`
	ExecutionOrder int  `bson:"execution_order" json:"executionOrder"`

	// RetryCount is the number of retries after the first attempt.
	RetryCount        int             `bson:"retry_count" json:"retryCount"`
	RetryDelaySeconds int             `bson:"retry_delay_seconds" json:"retryDelaySeconds"`
	RetryBackoff      BackoffStrategy `bson:"retry_backoff,omitempty" json:"retryBackoff,omitempty"`
}

// MaxAttempts returns the total attempt budget for the action.
func (a *Action) MaxAttempts() int {
	if a.RetryCount <= 0 {
		return 1
	}
	return 1 + a.RetryCount
}

// ExecutionLog is the audit record for one rule execution.
type ExecutionLog struct {
	ID              string          `bson:"_id" json:"id"`
	TenantID        string          `bson:"tenant_id" json:"tenantId"`
	RuleID          string          `bson:"rule_id" json:"ruleId"`
	RecordID        string          `bson:"record_id,omitempty" json:"recordId,omitempty"`
	TriggerType     TriggerType     `bson:"trigger_type" json:"triggerType"`
	Status          ExecutionStatus `bson:"status" json:"status"`
	ActionsExecuted int             `bson:"actions_executed" json:"actionsExecuted"`
	ErrorMessage    string          `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	DurationMs      int64           `bson:"duration_ms" json:"durationMs"`
	ExecutedAt      time.Time       `bson:"executed_at" json:"executedAt"`
}

// ActionLog is the audit record for one action attempt.
type ActionLog struct {
	ID             string          `bson:"_id" json:"id"`
	ExecutionLogID string          `bson:"execution_log_id" json:"executionLogId"`
	ActionID       string          `bson:"action_id,omitempty" json:"actionId,omitempty"`
	ActionType     string          `bson:"action_type" json:"actionType"`
	Status         ExecutionStatus `bson:"status" json:"status"`
	InputSnapshot  string          `bson:"input_snapshot,omitempty" json:"inputSnapshot,omitempty"`
	OutputSnapshot string          `bson:"output_snapshot,omitempty" json:"outputSnapshot,omitempty"`
	ErrorMessage   string          `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	DurationMs     int64           `bson:"duration_ms" json:"durationMs"`
	AttemptNumber  int             `bson:"attempt_number" json:"attemptNumber"`
	ExecutedAt     time.Time       `bson:"executed_at" json:"executedAt"`
}

// PendingAction is a deferred continuation of a rule, created by a DELAY
// action and picked up later by the pending executor.
type PendingAction struct {
	ID             string `bson:"_id" json:"id"`
	TenantID       string `bson:"tenant_id" json:"tenantId"`
	RuleID         string `bson:"rule_id" json:"ruleId"`
	ExecutionLogID string `bson:"execution_log_id,omitempty" json:"executionLogId,omitempty"`

	// ActionOrder is the execution order of the action that deferred the
	// rule. Resume starts strictly after it.
	ActionOrder int `bson:"action_order" json:"actionOrder"`

	RecordID string `bson:"record_id,omitempty" json:"recordId,omitempty"`

	// RecordSnapshot is the record data at defer time, serialized as JSON.
	RecordSnapshot string `bson:"record_snapshot,omitempty" json:"recordSnapshot,omitempty"`

	ScheduledAt  time.Time     `bson:"scheduled_at" json:"scheduledAt"`
	Status       PendingStatus `bson:"status" json:"status"`
	ErrorMessage string        `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updatedAt"`
}

// ActionType is a catalog row describing an installed action type.
type ActionType struct {
	Key         string `bson:"_id" json:"key"`
	Name        string `bson:"name" json:"name"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	Active      bool   `bson:"active" json:"active"`
}

// ActionContext carries everything a handler may need for one execution.
// The engine builds it once per rule execution and stamps the per-action
// fields before each handler call.
type ActionContext struct {
	TenantID       string
	RuleID         string
	ExecutionLogID string
	CollectionID   string
	CollectionName string
	RecordID       string
	Data           map[string]any
	PreviousData   map[string]any
	ChangedFields  []string
	UserID         string

	// ActionOrder is the execution order of the action being run.
	ActionOrder int

	// Config is the raw JSON config of the action being run.
	Config string

	// BeforeSave marks synchronous pre-persist evaluation. Handlers must
	// not touch stores when set; they return computed changes instead.
	BeforeSave bool
}

// ActionResult is the outcome of a single handler execution.
type ActionResult struct {
	Successful   bool
	ErrorMessage string
	Output       map[string]any

	// Defer marks a successful result that suspends the rest of the rule.
	// The remaining actions run when the recorded pending action comes due.
	Defer bool
}

// Success builds a successful result with optional output data.
func Success(output map[string]any) *ActionResult {
	return &ActionResult{Successful: true, Output: output}
}

// Deferred builds a successful result that suspends the rule's remaining
// actions until the recorded pending action comes due.
func Deferred(output map[string]any) *ActionResult {
	return &ActionResult{Successful: true, Defer: true, Output: output}
}

// Failure builds a failed result carrying an error message.
func Failure(message string) *ActionResult {
	return &ActionResult{Successful: false, ErrorMessage: message}
}

// ActionHandler executes one action type.
//
// Execute reports expected failures through the result; a non-nil error is
// reserved for unexpected faults and is converted to a failed result by the
// engine. Both paths are retried the same way.
type ActionHandler interface {
	// Key returns the action type this handler serves, e.g. "HTTP_CALLOUT".
	Key() string

	// Execute runs the action against the given context.
	Execute(ctx context.Context, in *ActionContext) (*ActionResult, error)

	// Validate checks an action config at design time.
	Validate(config string) error
}
