package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"trellis/internal/workflow/types"
)

// LogMessageHandler writes a configured message to the service log. Mostly
// used while authoring rules, to confirm matching before wiring real
// actions.
//
// Config format:
//
//	{"message": "Order approved", "level": "info"}
type LogMessageHandler struct {
	logger *slog.Logger
}

func NewLogMessageHandler(logger *slog.Logger) *LogMessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessageHandler{logger: logger.With("component", "workflow.action")}
}

func (h *LogMessageHandler) Key() string {
	return types.ActionLogMessage
}

func (h *LogMessageHandler) Execute(ctx context.Context, in *types.ActionContext) (*types.ActionResult, error) {
	config, err := parseConfig(in.Config)
	if err != nil {
		return types.Failure(err.Error()), nil
	}

	message := stringValue(config, "message")
	if message == "" {
		return types.Failure("Message is required"), nil
	}

	level := stringValue(config, "level")
	attrs := []any{
		"rule_id", in.RuleID,
		"tenant_id", in.TenantID,
		"record_id", in.RecordID,
	}

	switch level {
	case "debug":
		h.logger.Debug(message, attrs...)
	case "warn", "warning":
		h.logger.Warn(message, attrs...)
	case "error":
		h.logger.Error(message, attrs...)
	default:
		level = "info"
		h.logger.Info(message, attrs...)
	}

	return types.Success(map[string]any{
		"message": message,
		"level":   level,
	}), nil
}

func (h *LogMessageHandler) Validate(config string) error {
	parsed, err := parseValidateConfig(config)
	if err != nil {
		return err
	}
	if stringValue(parsed, "message") == "" {
		return fmt.Errorf("Config must contain 'message'")
	}
	return nil
}
