package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"trellis/internal/events"
	"trellis/internal/workflow/types"
)

// ExecuteScheduledRule runs a SCHEDULED rule's actions outside any record
// event. Matching and filter formulas are bypassed: the schedule already
// decided this rule should run. Returns an error only when the execution
// could not be recorded; action failures end up in the logs.
func (e *Engine) ExecuteScheduledRule(ctx context.Context, rule *types.Rule) error {
	start := e.now()

	actions := rule.ActiveActions()
	if len(actions) == 0 {
		e.logger.Debug("Scheduled rule has no active actions, skipping", "rule", rule.Name)
		return nil
	}

	e.logger.Info("Executing scheduled workflow rule",
		"rule", rule.Name, "tenant_id", rule.TenantID)

	synthetic := syntheticEvent(rule, e.resolveCollectionName(ctx, rule), "", "system")

	execLog := &types.ExecutionLog{
		TenantID:    rule.TenantID,
		RuleID:      rule.ID,
		TriggerType: types.TriggerScheduled,
		Status:      types.StatusExecuting,
		ExecutedAt:  start,
	}
	if err := e.execLogs.Create(ctx, execLog); err != nil {
		return fmt.Errorf("failed to create execution log for rule %s: %w", rule.ID, err)
	}

	actx := actionContext(rule, synthetic, execLog.ID)
	outcome := e.runActions(ctx, rule, actions, actx, execLog.ID)
	e.closeExecutionLog(ctx, rule, execLog, outcome, start)
	return nil
}

// ExecuteManualRule runs a rule on explicit request, bypassing matching and
// filters. Returns the execution log id, or "" when the rule has no active
// actions.
func (e *Engine) ExecuteManualRule(ctx context.Context, rule *types.Rule, recordID, userID string) (string, error) {
	start := e.now()

	actions := rule.ActiveActions()
	if len(actions) == 0 {
		e.logger.Debug("Rule has no active actions, skipping manual execution", "rule", rule.Name)
		return "", nil
	}

	if userID == "" {
		userID = "system"
	}

	e.logger.Info("Manual execution of workflow rule",
		"rule", rule.Name, "record_id", recordID, "user_id", userID)

	synthetic := syntheticEvent(rule, e.resolveCollectionName(ctx, rule), recordID, userID)

	execLog := &types.ExecutionLog{
		TenantID:    rule.TenantID,
		RuleID:      rule.ID,
		RecordID:    recordID,
		TriggerType: types.TriggerManual,
		Status:      types.StatusExecuting,
		ExecutedAt:  start,
	}
	if err := e.execLogs.Create(ctx, execLog); err != nil {
		return "", fmt.Errorf("failed to create execution log for rule %s: %w", rule.ID, err)
	}

	actx := actionContext(rule, synthetic, execLog.ID)
	outcome := e.runActions(ctx, rule, actions, actx, execLog.ID)
	e.closeExecutionLog(ctx, rule, execLog, outcome, start)
	return execLog.ID, nil
}

// ResumePendingAction continues a rule that a DELAY action suspended,
// running the active actions ordered strictly after the deferring one.
// Action logs append to the original execution log. The returned error
// feeds the pending poller's EXECUTED/FAILED transition.
func (e *Engine) ResumePendingAction(ctx context.Context, pending *types.PendingAction) error {
	rule, err := e.rules.Get(ctx, pending.RuleID)
	if err != nil {
		return fmt.Errorf("failed to load rule %s: %w", pending.RuleID, err)
	}

	var remaining []types.Action
	for _, action := range rule.ActiveActions() {
		if action.ExecutionOrder > pending.ActionOrder {
			remaining = append(remaining, action)
		}
	}
	if len(remaining) == 0 {
		e.logger.Debug("No actions to resume after delay",
			"rule", rule.Name, "pending_id", pending.ID)
		return nil
	}

	data := map[string]any{}
	if snapshot := strings.TrimSpace(pending.RecordSnapshot); snapshot != "" {
		if err := json.Unmarshal([]byte(snapshot), &data); err != nil {
			e.logger.Warn("Malformed record snapshot on pending action",
				"pending_id", pending.ID, "error", err)
			data = map[string]any{}
		}
	}

	e.logger.Info("Resuming delayed workflow rule",
		"rule", rule.Name, "pending_id", pending.ID,
		"after_order", pending.ActionOrder, "actions", len(remaining))

	actx := &types.ActionContext{
		TenantID:       pending.TenantID,
		RuleID:         rule.ID,
		ExecutionLogID: pending.ExecutionLogID,
		CollectionID:   rule.CollectionID,
		CollectionName: e.resolveCollectionName(ctx, rule),
		RecordID:       pending.RecordID,
		Data:           data,
		ChangedFields:  []string{},
		UserID:         "system",
	}

	outcome := e.runActions(ctx, rule, remaining, actx, pending.ExecutionLogID)
	e.logger.Info("Resumed delayed rule completed",
		"rule", rule.Name, "pending_id", pending.ID,
		"status", outcome.status, "actions", outcome.actionsExecuted)

	if outcome.status == types.StatusFailure {
		return fmt.Errorf("resumed actions failed: %s", outcome.errorMessage)
	}
	return nil
}

// syntheticEvent builds the CREATED-shaped event backing scheduled and
// manual executions.
func syntheticEvent(rule *types.Rule, collectionName, recordID, userID string) *events.ChangeEvent {
	return events.NewChangeEvent(uuid.NewString(), rule.TenantID, collectionName, recordID, events.ChangeCreated).
		WithData(map[string]any{}).
		WithChangedFields([]string{}).
		WithUser(userID)
}

// resolveCollectionName looks up the rule's collection name. Resolution is
// best-effort: handlers receive an empty name when the catalog row is gone,
// and the document store treats an empty name as unscoped.
func (e *Engine) resolveCollectionName(ctx context.Context, rule *types.Rule) string {
	if rule.CollectionID == "" || e.collections == nil {
		return ""
	}

	collection, err := e.collections.GetByID(ctx, rule.TenantID, rule.CollectionID)
	if err != nil {
		e.logger.Warn("Could not resolve collection for rule",
			"rule", rule.Name, "collection_id", rule.CollectionID, "error", err)
		return ""
	}
	return collection.Name
}
