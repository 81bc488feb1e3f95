package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// FieldUpdateHandler sets fields on the triggering record.
//
// Config format:
//
//	{"updates": [
//	    {"field": "status", "value": "Approved"},
//	    {"field": "reviewer", "sourceField": "userId"}
//	]}
//
// Each update carries either a static value or a sourceField read from the
// triggering record (dot-notation reaches nested maps). On the normal path
// the computed updates are patched onto the record; on the before-save path
// they are returned as output for the engine to fold into the write.
type FieldUpdateHandler struct {
	store  DocumentStore
	logger *slog.Logger
}

func NewFieldUpdateHandler(store DocumentStore, logger *slog.Logger) *FieldUpdateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldUpdateHandler{store: store, logger: logger.With("component", "workflow.action")}
}

func (h *FieldUpdateHandler) Key() string {
	return types.ActionFieldUpdate
}

func (h *FieldUpdateHandler) Execute(ctx context.Context, in *types.ActionContext) (*types.ActionResult, error) {
	config, err := parseConfig(in.Config)
	if err != nil {
		return types.Failure(err.Error()), nil
	}

	updates, ok := config["updates"].([]any)
	if !ok || len(updates) == 0 {
		return types.Failure("No updates defined"), nil
	}

	updateData := map[string]any{}
	for _, raw := range updates {
		update, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		field := stringValue(update, "field")
		if field == "" {
			continue
		}

		if sourceField := stringValue(update, "sourceField"); sourceField != "" {
			updateData[field] = nestedValue(in.Data, sourceField)
		} else {
			updateData[field] = update["value"]
		}
	}

	output := map[string]any{
		"updatedFields": updateData,
		"recordId":      in.RecordID,
	}

	// Before-save evaluation folds the updates into the write itself, and
	// scheduled or manual runs have no record to patch. Both return the
	// computed updates without touching the store.
	if in.BeforeSave || in.RecordID == "" {
		return types.Success(output), nil
	}

	h.logger.Info("Field update action",
		"collection", in.CollectionName, "record_id", in.RecordID, "fields", len(updateData))

	if err := h.store.Patch(ctx, in.TenantID, in.CollectionName, in.RecordID, updateData); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.Failure(fmt.Sprintf("Record not found: %s in collection %s", in.RecordID, in.CollectionName)), nil
		}
		return types.Failure("Failed to update record: " + err.Error()), nil
	}

	return types.Success(output), nil
}

func (h *FieldUpdateHandler) Validate(config string) error {
	parsed, err := parseValidateConfig(config)
	if err != nil {
		return err
	}

	updates, ok := parsed["updates"].([]any)
	if !ok {
		return fmt.Errorf("Config must contain 'updates' array")
	}
	if len(updates) == 0 {
		return fmt.Errorf("'updates' must not be empty")
	}
	return nil
}
