package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"trellis/internal/workflow/types"
)

// delayTimeLayouts are the accepted forms for delayUntilTime and field
// values: RFC 3339 with offset, or a local date-time without one.
var delayTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

// DelayHandler suspends the rest of a rule until a computed time.
//
// Config format, one of:
//
//	{"delayMinutes": 60}
//	{"delayUntilField": "dueDate"}
//	{"delayUntilTime": "2026-12-31T23:59:59Z"}
//
// The handler records a pending action carrying the record snapshot and the
// deferring action's order, then defers. The pending executor resumes the
// rule's remaining actions when the time arrives.
type DelayHandler struct {
	pending PendingStore
	logger  *slog.Logger

	// Injected for tests.
	now func() time.Time
}

func NewDelayHandler(pending PendingStore, logger *slog.Logger) *DelayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelayHandler{
		pending: pending,
		logger:  logger.With("component", "workflow.action"),
		now:     time.Now,
	}
}

func (h *DelayHandler) Key() string {
	return types.ActionDelay
}

func (h *DelayHandler) Execute(ctx context.Context, in *types.ActionContext) (*types.ActionResult, error) {
	config, err := parseConfig(in.Config)
	if err != nil {
		return types.Failure(err.Error()), nil
	}

	scheduledAt, ok := h.computeScheduledTime(config, in)
	if !ok {
		return types.Failure("Could not compute delay time from config"), nil
	}

	pending := &types.PendingAction{
		TenantID:       in.TenantID,
		RuleID:         in.RuleID,
		ExecutionLogID: in.ExecutionLogID,
		ActionOrder:    in.ActionOrder,
		RecordID:       in.RecordID,
		ScheduledAt:    scheduledAt,
		Status:         types.PendingStatusPending,
	}

	if len(in.Data) > 0 {
		snapshot, err := json.Marshal(in.Data)
		if err != nil {
			return types.Failure("Failed to snapshot record data: " + err.Error()), nil
		}
		pending.RecordSnapshot = string(snapshot)
	}

	if err := h.pending.Create(ctx, pending); err != nil {
		return types.Failure("Failed to create pending action: " + err.Error()), nil
	}

	h.logger.Info("Delay action created",
		"pending_id", pending.ID, "scheduled_at", scheduledAt,
		"rule_id", in.RuleID, "record_id", in.RecordID)

	return types.Deferred(map[string]any{
		"pendingActionId": pending.ID,
		"scheduledAt":     scheduledAt.UTC().Format(time.RFC3339),
		"status":          string(types.PendingStatusPending),
	}), nil
}

// computeScheduledTime resolves the delay target from whichever config key
// is present, in precedence order.
func (h *DelayHandler) computeScheduledTime(config map[string]any, in *types.ActionContext) (time.Time, bool) {
	if raw, ok := config["delayMinutes"]; ok && raw != nil {
		minutes, ok := asMinutes(raw)
		if !ok {
			h.logger.Warn("delayMinutes is not a number", "value", raw)
			return time.Time{}, false
		}
		return h.now().Add(time.Duration(minutes) * time.Minute), true
	}

	if field := stringValue(config, "delayUntilField"); field != "" {
		value := nestedValue(in.Data, field)
		if value == nil {
			h.logger.Warn("delayUntilField not found or null in record data", "field", field)
			return time.Time{}, false
		}
		return h.parseTime(fmt.Sprint(value))
	}

	if value := stringValue(config, "delayUntilTime"); value != "" {
		return h.parseTime(value)
	}

	return time.Time{}, false
}

func asMinutes(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func (h *DelayHandler) parseTime(value string) (time.Time, bool) {
	for _, layout := range delayTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	h.logger.Warn("Could not parse date/time value", "value", value)
	return time.Time{}, false
}

func (h *DelayHandler) Validate(config string) error {
	parsed, err := parseValidateConfig(config)
	if err != nil {
		return err
	}

	_, hasMinutes := parsed["delayMinutes"]
	_, hasField := parsed["delayUntilField"]
	_, hasTime := parsed["delayUntilTime"]

	if !hasMinutes && !hasField && !hasTime {
		return fmt.Errorf("Config must contain one of: 'delayMinutes', 'delayUntilField', or 'delayUntilTime'")
	}
	return nil
}
