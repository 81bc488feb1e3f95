package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trellis/internal/workflow/types"
)

// ExecuteActionWithRetry runs one action under its retry policy and writes
// an ActionLog row per attempt. A missing handler is a configuration error,
// not a transient fault: it fails once, with one audit row and no retry.
// The returned result is never nil.
func (e *Engine) ExecuteActionWithRetry(ctx context.Context, action types.Action, rule *types.Rule, actx *types.ActionContext, executionLogID string) *types.ActionResult {
	handler, ok := e.registry.Handler(action.ActionType)
	if !ok {
		e.logger.Error("No handler registered for action type",
			"action_type", action.ActionType, "rule", rule.Name)
		result := types.Failure("No handler registered for action type: " + action.ActionType)
		e.logActionAttempt(ctx, executionLogID, action, actx, result, 0, 1)
		return result
	}

	call := *actx
	call.Config = action.Config
	call.ActionOrder = action.ExecutionOrder
	call.ExecutionLogID = executionLogID

	maxAttempts := action.MaxAttempts()
	baseDelay := time.Duration(max(1, action.RetryDelaySeconds)) * time.Second
	exponential := action.RetryBackoff == types.BackoffExponential

	var last *types.ActionResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := e.now()
		last = e.invokeHandler(ctx, handler, action, rule, &call)
		duration := e.now().Sub(start).Milliseconds()

		e.logActionAttempt(ctx, executionLogID, action, &call, last, duration, attempt)

		if last.Successful {
			if attempt > 1 {
				e.logger.Info("Action succeeded after retry",
					"action_type", action.ActionType, "rule", rule.Name, "attempt", attempt)
			}
			return last
		}

		if attempt < maxAttempts {
			wait := baseDelay
			if exponential {
				wait = baseDelay << (attempt - 1)
			}
			e.logger.Info("Action failed, retrying",
				"action_type", action.ActionType, "rule", rule.Name,
				"attempt", attempt, "max_attempts", maxAttempts,
				"wait", wait, "error", last.ErrorMessage)

			if err := e.sleep(ctx, wait); err != nil {
				e.logger.Warn("Retry wait interrupted",
					"action_type", action.ActionType, "rule", rule.Name, "error", err)
				return last
			}
		}
	}

	if maxAttempts > 1 {
		e.logger.Error("Action failed after all attempts",
			"action_type", action.ActionType, "rule", rule.Name,
			"attempts", maxAttempts, "error", last.ErrorMessage)
	}
	return last
}

// invokeHandler calls the handler, converting returned errors and recovered
// panics into failure results so nothing escapes the rule boundary.
func (e *Engine) invokeHandler(ctx context.Context, handler types.ActionHandler, action types.Action, rule *types.Rule, call *types.ActionContext) (result *types.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic executing action",
				"action_type", action.ActionType, "rule", rule.Name, "panic", r)
			result = types.Failure(fmt.Sprintf("panic: %v", r))
		}
	}()

	res, err := handler.Execute(ctx, call)
	if err != nil {
		e.logger.Error("Action handler returned error",
			"action_type", action.ActionType, "rule", rule.Name, "error", err)
		return types.Failure(err.Error())
	}
	if res == nil {
		return types.Failure("handler returned no result")
	}
	return res
}

// logActionAttempt writes the audit row for one handler attempt.
func (e *Engine) logActionAttempt(ctx context.Context, executionLogID string, action types.Action, actx *types.ActionContext, result *types.ActionResult, durationMs int64, attempt int) {
	status := types.StatusSuccess
	if !result.Successful {
		status = types.StatusFailure
	}

	entry := &types.ActionLog{
		ExecutionLogID: executionLogID,
		ActionID:       action.ID,
		ActionType:     action.ActionType,
		Status:         status,
		ErrorMessage:   result.ErrorMessage,
		DurationMs:     durationMs,
		AttemptNumber:  attempt,
		ExecutedAt:     e.now(),
	}

	config := action.Config
	if config == "" {
		config = "{}"
	}
	input := map[string]any{
		"actionConfig":   config,
		"recordId":       actx.RecordID,
		"collectionName": actx.CollectionName,
	}
	if snapshot, err := json.Marshal(input); err == nil {
		entry.InputSnapshot = string(snapshot)
	} else {
		e.logger.Warn("Failed to serialize action input snapshot", "error", err)
	}

	if len(result.Output) > 0 {
		if snapshot, err := json.Marshal(result.Output); err == nil {
			entry.OutputSnapshot = string(snapshot)
		} else {
			e.logger.Warn("Failed to serialize action output snapshot", "error", err)
		}
	}

	if err := e.actionLogs.Append(ctx, entry); err != nil {
		e.logger.Error("Failed to write action log",
			"execution_log_id", executionLogID, "action_type", action.ActionType, "error", err)
	}
}
