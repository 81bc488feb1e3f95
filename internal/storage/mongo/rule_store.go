package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// RuleStore reads and updates workflow rules.
type RuleStore struct {
	coll *mongo.Collection
}

func NewRuleStore(db *mongo.Database) *RuleStore {
	return &RuleStore{coll: db.Collection(rulesCollection)}
}

// ActiveByTrigger returns the active rules for one trigger type, scoped to a
// tenant and collection, ordered by execution order.
func (s *RuleStore) ActiveByTrigger(ctx context.Context, tenantID, collectionID string, trigger types.TriggerType) ([]types.Rule, error) {
	filter := bson.M{
		"tenant_id":     tenantID,
		"collection_id": collectionID,
		"trigger_type":  trigger,
		"active":        true,
	}

	opts := options.Find().SetSort(bson.D{{Key: "execution_order", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var rules []types.Rule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ActiveScheduled returns every active SCHEDULED rule across all tenants.
func (s *RuleStore) ActiveScheduled(ctx context.Context) ([]types.Rule, error) {
	filter := bson.M{
		"trigger_type": types.TriggerScheduled,
		"active":       true,
	}

	opts := options.Find().SetSort(bson.D{{Key: "execution_order", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var rules []types.Rule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Get returns one rule by id.
func (s *RuleStore) Get(ctx context.Context, id string) (*types.Rule, error) {
	var rule types.Rule
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rule); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// UpdateLastScheduledRun persists the scheduler's watermark for the rule.
func (s *RuleStore) UpdateLastScheduledRun(ctx context.Context, id string, at time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"last_scheduled_run": at,
			"updated_at":         time.Now().UTC(),
		},
	}

	result, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
