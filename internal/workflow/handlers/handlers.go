// Package handlers implements the built-in workflow action types. Each
// handler parses its own config JSON, reports expected failures through the
// ActionResult, and reserves Go errors for faults the engine should log.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trellis/internal/pubsub"
	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// DocumentStore is the record access the record-mutating handlers need.
type DocumentStore interface {
	Get(ctx context.Context, tenantID, collection, recordID string) (*storage.Document, error)
	Create(ctx context.Context, tenantID string, doc *storage.Document) error
	Patch(ctx context.Context, tenantID, collection, recordID string, data map[string]any) error
}

// PendingStore persists deferred continuations for the DELAY action.
type PendingStore interface {
	Create(ctx context.Context, pending *types.PendingAction) error
}

// TokenSource mints service tokens for outbound calls.
type TokenSource interface {
	GenerateSystemToken(serviceName string) (string, error)
}

// Dependencies carries the collaborators the built-in handlers share.
type Dependencies struct {
	Documents DocumentStore
	Pending   PendingStore
	Publisher pubsub.Publisher
	Tokens    TokenSource
	Logger    *slog.Logger
}

// Options tunes the built-in handlers.
type Options struct {
	// CalloutTimeout bounds each HTTP_CALLOUT request.
	CalloutTimeout time.Duration
}

// BuiltIn returns the standard handler suite in registration order.
func BuiltIn(deps Dependencies, opts Options) []types.ActionHandler {
	return []types.ActionHandler{
		NewLogMessageHandler(deps.Logger),
		NewFieldUpdateHandler(deps.Documents, deps.Logger),
		NewCreateRecordHandler(deps.Documents, deps.Logger),
		NewHTTPCalloutHandler(deps.Tokens, opts.CalloutTimeout, deps.Logger),
		NewDelayHandler(deps.Pending, deps.Logger),
		NewPublishEventHandler(deps.Publisher, deps.Logger),
	}
}

// parseConfig decodes an action config JSON object.
func parseConfig(raw string) (map[string]any, error) {
	var config map[string]any
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, err
	}
	return config, nil
}

// parseValidateConfig decodes a config for Validate, wrapping JSON errors
// in the message rule authors see.
func parseValidateConfig(raw string) (map[string]any, error) {
	config, err := parseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("Invalid config JSON: %v", err)
	}
	return config, nil
}

// stringValue returns config[key] as a trimmed string, "" when the key is
// absent or not a string.
func stringValue(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return strings.TrimSpace(s)
}

// nestedValue resolves a dot-notation path against record data, e.g.
// "aggregations.total_spent".
func nestedValue(data map[string]any, path string) any {
	if data == nil || path == "" {
		return nil
	}

	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
