// Package mongo implements the workflow stores on MongoDB.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trellis/internal/storage"
)

// Collection names used by the workflow service.
const (
	rulesCollection         = "workflow_rules"
	executionLogsCollection = "workflow_execution_logs"
	actionLogsCollection    = "workflow_action_logs"
	pendingCollection       = "workflow_pending_actions"
	actionTypesCollection   = "workflow_action_types"
	collectionsCollection   = "collections"
	recordsCollection       = "records"
)

// Provider owns the Mongo client and hands out the workflow stores.
type Provider struct {
	client *mongo.Client
	db     *mongo.Database

	rules       *RuleStore
	execLogs    *ExecutionLogStore
	actionLogs  *ActionLogStore
	pending     *PendingActionStore
	actionTypes *ActionTypeStore
	collections *CollectionStore
	documents   *DocumentStore
}

// NewProvider connects to Mongo, verifies the connection, and ensures the
// indexes the stores rely on.
func NewProvider(ctx context.Context, cfg storage.Config) (*Provider, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URI)
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	p := &Provider{
		client:      client,
		db:          db,
		rules:       NewRuleStore(db),
		execLogs:    NewExecutionLogStore(db),
		actionLogs:  NewActionLogStore(db),
		pending:     NewPendingActionStore(db),
		actionTypes: NewActionTypeStore(db),
		collections: NewCollectionStore(db),
		documents:   NewDocumentStore(db),
	}

	if err := p.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return p, nil
}

func (p *Provider) Rules() *RuleStore { return p.rules }

func (p *Provider) ExecutionLogs() *ExecutionLogStore { return p.execLogs }

func (p *Provider) ActionLogs() *ActionLogStore { return p.actionLogs }

func (p *Provider) Pending() *PendingActionStore { return p.pending }

func (p *Provider) ActionTypes() *ActionTypeStore { return p.actionTypes }

func (p *Provider) Collections() *CollectionStore { return p.collections }

func (p *Provider) Documents() *DocumentStore { return p.documents }

// Close disconnects the underlying client.
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

func (p *Provider) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		p.rules.coll: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "collection_id", Value: 1}, {Key: "trigger_type", Value: 1}, {Key: "active", Value: 1}}},
			{Keys: bson.D{{Key: "trigger_type", Value: 1}, {Key: "active", Value: 1}}},
		},
		p.execLogs.coll: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "rule_id", Value: 1}, {Key: "executed_at", Value: -1}}},
		},
		p.actionLogs.coll: {
			{Keys: bson.D{{Key: "execution_log_id", Value: 1}, {Key: "executed_at", Value: 1}}},
		},
		p.pending.coll: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduled_at", Value: 1}}},
		},
		p.collections.coll: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		p.documents.coll: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "collection", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to ensure indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}
