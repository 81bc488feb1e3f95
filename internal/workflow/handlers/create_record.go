package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// CreateRecordHandler inserts a new record into a target collection.
//
// Config format:
//
//	{"collection": "audit_trail",
//	 "data": {"source": "workflow"},
//	 "fieldMappings": [
//	     {"targetField": "status", "value": "Open"},
//	     {"targetField": "source_id", "sourceField": "id"}
//	 ]}
//
// Literal fields come from "data"; "fieldMappings" overlay them and can copy
// values out of the triggering record via sourceField.
type CreateRecordHandler struct {
	store  DocumentStore
	logger *slog.Logger
}

func NewCreateRecordHandler(store DocumentStore, logger *slog.Logger) *CreateRecordHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateRecordHandler{store: store, logger: logger.With("component", "workflow.action")}
}

func (h *CreateRecordHandler) Key() string {
	return types.ActionCreateRecord
}

func (h *CreateRecordHandler) Execute(ctx context.Context, in *types.ActionContext) (*types.ActionResult, error) {
	config, err := parseConfig(in.Config)
	if err != nil {
		return types.Failure(err.Error()), nil
	}

	collection := stringValue(config, "collection")
	if collection == "" {
		return types.Failure("Target collection is required"), nil
	}

	recordData := map[string]any{}
	if data, ok := config["data"].(map[string]any); ok {
		for k, v := range data {
			recordData[k] = v
		}
	}

	if mappings, ok := config["fieldMappings"].([]any); ok {
		for _, raw := range mappings {
			mapping, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			targetField := stringValue(mapping, "targetField")
			if targetField == "" {
				continue
			}

			if sourceField := stringValue(mapping, "sourceField"); sourceField != "" {
				recordData[targetField] = nestedValue(in.Data, sourceField)
			} else {
				recordData[targetField] = mapping["value"]
			}
		}
	}

	doc := &storage.Document{
		Collection: collection,
		Data:       recordData,
	}
	if err := h.store.Create(ctx, in.TenantID, doc); err != nil {
		return types.Failure("Failed to create record: " + err.Error()), nil
	}

	h.logger.Info("Create record action",
		"collection", collection, "record_id", doc.ID, "fields", len(recordData))

	return types.Success(map[string]any{
		"collection": collection,
		"recordId":   doc.ID,
		"recordData": recordData,
	}), nil
}

func (h *CreateRecordHandler) Validate(config string) error {
	parsed, err := parseValidateConfig(config)
	if err != nil {
		return err
	}
	if stringValue(parsed, "collection") == "" {
		return fmt.Errorf("Config must contain 'collection'")
	}
	return nil
}
