package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"trellis/internal/pubsub"
	"trellis/internal/workflow/types"
)

// PublishEventHandler publishes a custom event onto the workflow stream.
//
// Config format:
//
//	{"subject": "orders.approved",
//	 "eventType": "order.approved",
//	 "payload": {"region": "eu"}}
//
// The published envelope carries the tenant, collection, record, and rule
// identifiers plus the triggering record data, so consumers need no extra
// lookups. Stream namespacing is handled by the pubsub publisher, so
// subjects are published as configured.
type PublishEventHandler struct {
	publisher pubsub.Publisher
	logger    *slog.Logger

	// Injected for tests.
	now func() time.Time
}

func NewPublishEventHandler(publisher pubsub.Publisher, logger *slog.Logger) *PublishEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishEventHandler{
		publisher: publisher,
		logger:    logger.With("component", "workflow.action"),
		now:       time.Now,
	}
}

func (h *PublishEventHandler) Key() string {
	return types.ActionPublishEvent
}

func (h *PublishEventHandler) Execute(ctx context.Context, in *types.ActionContext) (*types.ActionResult, error) {
	config, err := parseConfig(in.Config)
	if err != nil {
		return types.Failure(err.Error()), nil
	}

	subject := stringValue(config, "subject")
	if subject == "" {
		return types.Failure("Event 'subject' is required"), nil
	}

	eventType := stringValue(config, "eventType")
	if eventType == "" {
		eventType = "workflow.custom.event"
	}

	envelope := map[string]any{
		"eventType":      eventType,
		"tenantId":       in.TenantID,
		"collectionId":   in.CollectionID,
		"collectionName": in.CollectionName,
		"recordId":       in.RecordID,
		"workflowRuleId": in.RuleID,
		"timestamp":      h.now().UTC().Format(time.RFC3339),
		"recordData":     in.Data,
	}
	if payload, ok := config["payload"].(map[string]any); ok {
		envelope["data"] = payload
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return types.Failure("Failed to marshal event: " + err.Error()), nil
	}

	if err := h.publisher.Publish(ctx, subject, data); err != nil {
		return types.Failure("Failed to publish event: " + err.Error()), nil
	}

	h.logger.Info("Custom event published",
		"subject", subject, "event_type", eventType, "rule_id", in.RuleID)

	return types.Success(map[string]any{
		"subject":   subject,
		"eventType": eventType,
	}), nil
}

func (h *PublishEventHandler) Validate(config string) error {
	parsed, err := parseValidateConfig(config)
	if err != nil {
		return err
	}
	if stringValue(parsed, "subject") == "" {
		return fmt.Errorf("Config must contain 'subject'")
	}
	return nil
}
