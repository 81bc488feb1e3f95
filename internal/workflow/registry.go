package workflow

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"trellis/internal/workflow/types"
)

// HandlerRegistry indexes action handlers by their action type key and
// cross-references them against the persisted action type catalog.
type HandlerRegistry struct {
	discovered []types.ActionHandler
	catalog    ActionTypeStore
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[string]types.ActionHandler
}

// NewHandlerRegistry creates a registry over the given handler list. Call
// Initialize before first use.
func NewHandlerRegistry(handlers []types.ActionHandler, catalog ActionTypeStore, logger *slog.Logger) *HandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &HandlerRegistry{
		discovered: handlers,
		catalog:    catalog,
		logger:     logger.With("component", "workflow.registry"),
		handlers:   map[string]types.ActionHandler{},
	}
}

// Initialize indexes the supplied handlers by key and verifies the index
// against the action type catalog. Duplicate keys keep the last handler.
// Catalog mismatches are diagnostic only: entries without handlers and
// handlers without entries are logged, never fatal, and a failing catalog
// lookup leaves the registry fully usable.
func (r *HandlerRegistry) Initialize(ctx context.Context) {
	r.logger.Info("Initializing action handler registry", "discovered", len(r.discovered))

	indexed := make(map[string]types.ActionHandler, len(r.discovered))
	for _, h := range r.discovered {
		if h == nil {
			continue
		}
		key := h.Key()
		if _, dup := indexed[key]; dup {
			r.logger.Warn("Duplicate action handler registration, last one wins", "action_type", key)
		}
		indexed[key] = h
	}

	r.mu.Lock()
	r.handlers = indexed
	r.mu.Unlock()

	r.crossReference(ctx)

	r.logger.Info("Action handler registry initialized", "handlers", r.Size(), "keys", r.Keys())
}

func (r *HandlerRegistry) crossReference(ctx context.Context) {
	if r.catalog == nil {
		return
	}

	catalogTypes, err := r.catalog.ActiveTypes(ctx)
	if err != nil {
		r.logger.Warn("Could not cross-reference handlers with catalog", "error", err)
		return
	}

	known := make(map[string]bool, len(catalogTypes))
	for _, at := range catalogTypes {
		known[at.Key] = true
		if !r.HasHandler(at.Key) {
			r.logger.Warn("Action type in catalog has no registered handler",
				"action_type", at.Key, "name", at.Name)
		}
	}

	for _, key := range r.Keys() {
		if !known[key] {
			r.logger.Warn("Registered handler has no catalog entry", "action_type", key)
		}
	}
}

// Refresh rebuilds the registry. Called when the action type catalog
// changes.
func (r *HandlerRegistry) Refresh(ctx context.Context) {
	r.logger.Info("Refreshing action handler registry")
	r.Initialize(ctx)
}

// Handler returns the handler for an action type key.
func (r *HandlerRegistry) Handler(key string) (types.ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key]
	return h, ok
}

// HasHandler reports whether a handler is registered for the key.
func (r *HandlerRegistry) HasHandler(key string) bool {
	_, ok := r.Handler(key)
	return ok
}

// Keys returns the registered action type keys, sorted.
func (r *HandlerRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of registered handlers.
func (r *HandlerRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
