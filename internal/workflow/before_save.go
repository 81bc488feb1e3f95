package workflow

import (
	"context"
	"fmt"
	"strings"

	"trellis/internal/events"
	"trellis/internal/workflow/types"
)

// BeforeSaveInput describes a record mutation that has not been persisted
// yet. ChangeType distinguishes creates from updates; PreviousData and
// ChangedFields are empty for creates.
type BeforeSaveInput struct {
	TenantID      string
	Collection    string
	RecordID      string
	Data          map[string]any
	PreviousData  map[string]any
	ChangedFields []string
	UserID        string
	ChangeType    events.ChangeType
}

// BeforeSaveResult accumulates the field updates the caller applies before
// persisting the record.
type BeforeSaveResult struct {
	FieldUpdates    map[string]any
	RulesEvaluated  int
	ActionsExecuted int
}

// EvaluateBeforeSave runs BEFORE_CREATE or BEFORE_UPDATE rules synchronously
// inside the save path. Only FIELD_UPDATE actions execute here: they compute
// updates instead of writing to the store, and run without retry or audit
// rows. Later rules win when two rules update the same field. Failures are
// absorbed so a misbehaving rule never blocks the save.
func (e *Engine) EvaluateBeforeSave(ctx context.Context, in BeforeSaveInput) *BeforeSaveResult {
	result := &BeforeSaveResult{FieldUpdates: map[string]any{}}

	trigger := types.TriggerBeforeUpdate
	if in.ChangeType == events.ChangeCreated {
		trigger = types.TriggerBeforeCreate
	}

	collection, err := e.collections.GetByName(ctx, in.TenantID, in.Collection)
	if err != nil {
		e.logger.Warn("Collection not found for before-save evaluation, skipping",
			"tenant_id", in.TenantID, "collection", in.Collection, "error", err)
		return result
	}

	rules, err := e.rules.ActiveByTrigger(ctx, in.TenantID, collection.ID, trigger)
	if err != nil {
		e.logger.Error("Failed to load before-save rules",
			"tenant_id", in.TenantID, "collection", in.Collection, "trigger", trigger, "error", err)
		return result
	}
	if len(rules) == 0 {
		return result
	}

	e.logger.Info("Evaluating before-save workflow rules",
		"rules", len(rules), "collection", in.Collection, "trigger", trigger, "record_id", in.RecordID)

	for i := range rules {
		rule := &rules[i]
		result.RulesEvaluated++

		if trigger == types.TriggerBeforeUpdate && !beforeSaveFieldsMatch(rule, in.ChangedFields) {
			e.logger.Debug("Before-save trigger fields check rejected record",
				"rule", rule.Name, "record_id", in.RecordID)
			continue
		}

		if strings.TrimSpace(rule.FilterFormula) != "" {
			match, err := e.formula.EvaluateBool(ctx, rule.FilterFormula, in.Data)
			if err != nil {
				e.logger.Warn("Error evaluating before-save filter",
					"rule", rule.Name, "formula", rule.FilterFormula, "error", err)
				continue
			}
			if !match {
				e.logger.Debug("Before-save filter rejected record",
					"rule", rule.Name, "record_id", in.RecordID, "formula", rule.FilterFormula)
				continue
			}
		}

		e.runBeforeSaveActions(ctx, rule, collection.ID, in, result)
	}

	e.logger.Info("Before-save evaluation complete",
		"rules_evaluated", result.RulesEvaluated,
		"actions_executed", result.ActionsExecuted,
		"field_updates", len(result.FieldUpdates))
	return result
}

// runBeforeSaveActions executes the rule's active FIELD_UPDATE actions and
// folds each successful result's updatedFields output into the accumulated
// map. STOP_ON_ERROR halts this rule's remaining actions only.
func (e *Engine) runBeforeSaveActions(ctx context.Context, rule *types.Rule, collectionID string, in BeforeSaveInput, result *BeforeSaveResult) {
	actions := fieldUpdateActions(rule)
	if len(actions) == 0 {
		return
	}

	handler, ok := e.registry.Handler(types.ActionFieldUpdate)
	if !ok {
		e.logger.Error("No FIELD_UPDATE handler registered for before-save rule", "rule", rule.Name)
		return
	}

	stopOnError := rule.ErrorHandling == types.StopOnError

	userID := in.UserID
	if userID == "" {
		userID = "system"
	}
	changedFields := in.ChangedFields
	if changedFields == nil {
		changedFields = []string{}
	}

	for i := range actions {
		action := actions[i]
		call := &types.ActionContext{
			TenantID:       in.TenantID,
			RuleID:         rule.ID,
			CollectionID:   collectionID,
			CollectionName: in.Collection,
			RecordID:       in.RecordID,
			Data:           in.Data,
			PreviousData:   in.PreviousData,
			ChangedFields:  changedFields,
			UserID:         userID,
			ActionOrder:    action.ExecutionOrder,
			Config:         action.Config,
			BeforeSave:     true,
		}

		res, err := executeBeforeSaveAction(ctx, handler, call)
		if err != nil {
			e.logger.Error("Before-save FIELD_UPDATE action failed",
				"rule", rule.Name, "record_id", in.RecordID, "error", err)
			if stopOnError {
				break
			}
			continue
		}
		result.ActionsExecuted++

		if res == nil || !res.Successful {
			message := "handler returned no result"
			if res != nil {
				message = res.ErrorMessage
			}
			e.logger.Warn("Before-save FIELD_UPDATE rejected",
				"rule", rule.Name, "record_id", in.RecordID, "error", message)
			if stopOnError {
				break
			}
			continue
		}

		if updates, ok := res.Output["updatedFields"].(map[string]any); ok {
			for field, value := range updates {
				result.FieldUpdates[field] = value
			}
		}
	}
}

// executeBeforeSaveAction invokes the handler with panic recovery. The save
// path stays up no matter what a handler does.
func executeBeforeSaveAction(ctx context.Context, handler types.ActionHandler, call *types.ActionContext) (res *types.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return handler.Execute(ctx, call)
}

// beforeSaveFieldsMatch applies the trigger-field allowlist to a pending
// update. Rules without a usable allowlist match everything.
func beforeSaveFieldsMatch(rule *types.Rule, changedFields []string) bool {
	triggerFields := rule.ParsedTriggerFields()
	if len(triggerFields) == 0 {
		return true
	}

	for _, field := range triggerFields {
		for _, changed := range changedFields {
			if field == changed {
				return true
			}
		}
	}
	return false
}

// fieldUpdateActions returns the rule's active FIELD_UPDATE actions in
// execution order.
func fieldUpdateActions(rule *types.Rule) []types.Action {
	var actions []types.Action
	for _, action := range rule.ActiveActions() {
		if action.ActionType == types.ActionFieldUpdate {
			actions = append(actions, action)
		}
	}
	return actions
}
