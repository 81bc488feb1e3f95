// Package workflow implements the rule engine: event evaluation, action
// execution with retry, scheduled and manual runs, and pending-action
// resumption.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"trellis/internal/events"
	"trellis/internal/formula"
	"trellis/internal/workflow/types"
)

// DefaultBatchConcurrency bounds EvaluateBatch fan-out when none is
// configured.
const DefaultBatchConcurrency = 4

// Dependencies contains the external collaborators of the engine.
type Dependencies struct {
	Rules         RuleStore
	ExecutionLogs ExecutionLogStore
	ActionLogs    ActionLogStore
	Registry      *HandlerRegistry
	Formula       formula.Evaluator
	Collections   CollectionResolver
}

// Options tunes engine behavior.
type Options struct {
	// BatchConcurrency bounds EvaluateBatch fan-out. Values below 2
	// evaluate batches in-line.
	BatchConcurrency int

	Logger *slog.Logger
}

// Engine evaluates record change events against workflow rules and executes
// their actions. Every public entry point absorbs failures: one rule's
// misbehavior never disrupts sibling rules or the caller.
type Engine struct {
	rules       RuleStore
	execLogs    ExecutionLogStore
	actionLogs  ActionLogStore
	registry    *HandlerRegistry
	formula     formula.Evaluator
	collections CollectionResolver
	logger      *slog.Logger
	batchLimit  int

	// Injected for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a workflow engine.
func NewEngine(deps Dependencies, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchLimit := opts.BatchConcurrency
	if batchLimit <= 0 {
		batchLimit = DefaultBatchConcurrency
	}

	return &Engine{
		rules:       deps.Rules,
		execLogs:    deps.ExecutionLogs,
		actionLogs:  deps.ActionLogs,
		registry:    deps.Registry,
		formula:     deps.Formula,
		collections: deps.Collections,
		logger:      logger.With("component", "workflow.engine"),
		batchLimit:  batchLimit,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Evaluate runs every matching rule for one record change event. It never
// returns an error: non-matches are silent, rule failures end up in the
// execution logs, infrastructure failures are logged and swallowed.
func (e *Engine) Evaluate(ctx context.Context, event *events.ChangeEvent) {
	if event == nil {
		return
	}

	trigger, ok := mapChangeTypeToTrigger(event.Type)
	if !ok {
		e.logger.Warn("Unknown change type, skipping event", "change_type", event.Type, "event_id", event.EventID)
		return
	}

	collection, err := e.collections.GetByName(ctx, event.TenantID, event.Collection)
	if err != nil {
		e.logger.Warn("Collection not found for workflow evaluation, skipping",
			"tenant_id", event.TenantID, "collection", event.Collection, "error", err)
		return
	}

	rules, err := e.findMatchingRules(ctx, event.TenantID, collection.ID, trigger)
	if err != nil {
		e.logger.Error("Failed to load workflow rules",
			"tenant_id", event.TenantID, "collection", event.Collection, "trigger", trigger, "error", err)
		return
	}
	if len(rules) == 0 {
		e.logger.Debug("No matching workflow rules",
			"tenant_id", event.TenantID, "collection", event.Collection, "trigger", trigger)
		return
	}

	e.logger.Info("Evaluating workflow rules",
		"rules", len(rules), "collection", event.Collection, "trigger", trigger, "record_id", event.RecordID)

	for i := range rules {
		e.evaluateRule(ctx, &rules[i], event)
	}
}

// EvaluateBatch evaluates a batch of events, fanning out across a bounded
// worker pool when batch concurrency allows. Per-item failures never abort
// the batch.
func (e *Engine) EvaluateBatch(ctx context.Context, batch []*events.ChangeEvent) {
	if len(batch) == 0 {
		return
	}

	if e.batchLimit <= 1 || len(batch) == 1 {
		for _, event := range batch {
			e.Evaluate(ctx, event)
		}
		return
	}

	g := &errgroup.Group{}
	g.SetLimit(e.batchLimit)
	for _, event := range batch {
		g.Go(func() error {
			e.Evaluate(ctx, event)
			return nil
		})
	}
	_ = g.Wait()
}

// evaluateRule applies the trigger-field and formula gates, then executes
// the rule's actions under its error handling policy.
func (e *Engine) evaluateRule(ctx context.Context, rule *types.Rule, event *events.ChangeEvent) {
	start := e.now()

	if !matchesTriggerFields(rule, event) {
		e.logger.Debug("Trigger fields check rejected record",
			"rule", rule.Name, "record_id", event.RecordID,
			"trigger_fields", rule.TriggerFields, "changed_fields", event.ChangedFields)
		return
	}

	if strings.TrimSpace(rule.FilterFormula) != "" {
		match, err := e.formula.EvaluateBool(ctx, rule.FilterFormula, event.Data)
		if err != nil {
			e.logger.Warn("Error evaluating filter formula",
				"rule", rule.Name, "formula", rule.FilterFormula, "error", err)
			e.logFailedExecution(ctx, rule, event, "Filter formula error: "+err.Error(), start)
			return
		}
		if !match {
			e.logger.Debug("Filter formula rejected record",
				"rule", rule.Name, "record_id", event.RecordID, "formula", rule.FilterFormula)
			return
		}
	}

	actions := rule.ActiveActions()
	if len(actions) == 0 {
		e.logger.Debug("Rule has no active actions, skipping", "rule", rule.Name)
		return
	}

	trigger, _ := mapChangeTypeToTrigger(event.Type)
	execLog := &types.ExecutionLog{
		TenantID:    event.TenantID,
		RuleID:      rule.ID,
		RecordID:    event.RecordID,
		TriggerType: trigger,
		Status:      types.StatusExecuting,
		ExecutedAt:  start,
	}
	if err := e.execLogs.Create(ctx, execLog); err != nil {
		e.logger.Error("Failed to create execution log, skipping rule", "rule", rule.Name, "error", err)
		return
	}

	actx := actionContext(rule, event, execLog.ID)
	outcome := e.runActions(ctx, rule, actions, actx, execLog.ID)
	e.closeExecutionLog(ctx, rule, execLog, outcome, start)
}

// runOutcome summarizes one pass over a rule's actions.
type runOutcome struct {
	status          types.ExecutionStatus
	actionsExecuted int
	errorMessage    string
}

// runActions executes actions in order under the rule's error handling
// policy. A successful deferring action (DELAY) stops the pass; the rest of
// the rule runs when the pending action comes due.
func (e *Engine) runActions(ctx context.Context, rule *types.Rule, actions []types.Action, actx *types.ActionContext, executionLogID string) runOutcome {
	stopOnError := rule.ErrorHandling == types.StopOnError

	var (
		executed int
		failed   int
		halted   bool
		lastErr  string
	)

	for i := range actions {
		action := actions[i]
		result := e.ExecuteActionWithRetry(ctx, action, rule, actx, executionLogID)
		executed++

		if result.Successful {
			if result.Defer {
				e.logger.Info("Rule deferred, remaining actions scheduled",
					"rule", rule.Name, "action_type", action.ActionType)
				break
			}
			continue
		}

		failed++
		lastErr = fmt.Sprintf("Action '%s' failed: %s", action.ActionType, result.ErrorMessage)

		if stopOnError {
			halted = true
			e.logger.Error("Rule stopped on error",
				"rule", rule.Name, "action_type", action.ActionType, "error", result.ErrorMessage)
			break
		}
		e.logger.Warn("Rule continuing despite error",
			"rule", rule.Name, "action_type", action.ActionType, "error", result.ErrorMessage)
	}

	var status types.ExecutionStatus
	switch {
	case failed == 0:
		status = types.StatusSuccess
	case halted:
		status = types.StatusFailure
	case failed == executed:
		// Every attempted action failed.
		status = types.StatusFailure
	default:
		status = types.StatusPartialFailure
	}

	return runOutcome{status: status, actionsExecuted: executed, errorMessage: lastErr}
}

func (e *Engine) closeExecutionLog(ctx context.Context, rule *types.Rule, entry *types.ExecutionLog, outcome runOutcome, start time.Time) {
	entry.Status = outcome.status
	entry.ActionsExecuted = outcome.actionsExecuted
	entry.ErrorMessage = outcome.errorMessage
	entry.DurationMs = e.now().Sub(start).Milliseconds()

	if err := e.execLogs.Update(ctx, entry); err != nil {
		e.logger.Error("Failed to update execution log", "execution_log_id", entry.ID, "error", err)
	}

	e.logger.Info("Workflow rule completed",
		"rule", rule.Name, "status", entry.Status,
		"actions", entry.ActionsExecuted, "duration_ms", entry.DurationMs)
}

// logFailedExecution records a rule execution that failed before any action
// ran, such as a filter formula error.
func (e *Engine) logFailedExecution(ctx context.Context, rule *types.Rule, event *events.ChangeEvent, message string, start time.Time) {
	trigger, _ := mapChangeTypeToTrigger(event.Type)
	entry := &types.ExecutionLog{
		TenantID:     event.TenantID,
		RuleID:       rule.ID,
		RecordID:     event.RecordID,
		TriggerType:  trigger,
		Status:       types.StatusFailure,
		ErrorMessage: message,
		DurationMs:   e.now().Sub(start).Milliseconds(),
		ExecutedAt:   e.now(),
	}
	if err := e.execLogs.Create(ctx, entry); err != nil {
		e.logger.Error("Failed to create execution log", "rule", rule.Name, "error", err)
	}
}

// findMatchingRules loads active rules for the trigger. CREATE and UPDATE
// events additionally match ON_CREATE_OR_UPDATE rules; the merged list is
// re-sorted by execution order only when that second set is non-empty.
func (e *Engine) findMatchingRules(ctx context.Context, tenantID, collectionID string, trigger types.TriggerType) ([]types.Rule, error) {
	direct, err := e.rules.ActiveByTrigger(ctx, tenantID, collectionID, trigger)
	if err != nil {
		return nil, err
	}

	if trigger != types.TriggerOnCreate && trigger != types.TriggerOnUpdate {
		return direct, nil
	}

	combined, err := e.rules.ActiveByTrigger(ctx, tenantID, collectionID, types.TriggerOnCreateOrUpdate)
	if err != nil {
		return nil, err
	}
	if len(combined) == 0 {
		return direct, nil
	}

	merged := make([]types.Rule, 0, len(direct)+len(combined))
	merged = append(merged, direct...)
	merged = append(merged, combined...)
	sortRulesByExecutionOrder(merged)
	return merged, nil
}

// matchesTriggerFields applies the rule's trigger-field allowlist. Rules
// without a usable allowlist match everything, and the filter only applies
// to UPDATE events: creates and deletes carry no changed fields.
func matchesTriggerFields(rule *types.Rule, event *events.ChangeEvent) bool {
	triggerFields := rule.ParsedTriggerFields()
	if len(triggerFields) == 0 {
		return true
	}

	if event.Type != events.ChangeUpdated {
		return true
	}

	for _, field := range triggerFields {
		for _, changed := range event.ChangedFields {
			if field == changed {
				return true
			}
		}
	}
	return false
}

// mapChangeTypeToTrigger maps an event change type to its direct trigger.
func mapChangeTypeToTrigger(changeType events.ChangeType) (types.TriggerType, bool) {
	switch changeType {
	case events.ChangeCreated:
		return types.TriggerOnCreate, true
	case events.ChangeUpdated:
		return types.TriggerOnUpdate, true
	case events.ChangeDeleted:
		return types.TriggerOnDelete, true
	default:
		return "", false
	}
}

// actionContext builds the handler context shared by a rule execution. The
// retry executor stamps per-action fields before each handler call.
func actionContext(rule *types.Rule, event *events.ChangeEvent, executionLogID string) *types.ActionContext {
	return &types.ActionContext{
		TenantID:       event.TenantID,
		RuleID:         rule.ID,
		ExecutionLogID: executionLogID,
		CollectionID:   rule.CollectionID,
		CollectionName: event.Collection,
		RecordID:       event.RecordID,
		Data:           event.Data,
		PreviousData:   event.PreviousData,
		ChangedFields:  event.ChangedFields,
		UserID:         event.UserID,
	}
}

func sortRulesByExecutionOrder(rules []types.Rule) {
	// Stable so rules sharing an execution order keep store order.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].ExecutionOrder < rules[j].ExecutionOrder
	})
}
