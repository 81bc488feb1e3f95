package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// PendingActionStore persists deferred rule continuations.
type PendingActionStore struct {
	coll *mongo.Collection
}

func NewPendingActionStore(db *mongo.Database) *PendingActionStore {
	return &PendingActionStore{coll: db.Collection(pendingCollection)}
}

// Create inserts a pending action, assigning an id and timestamps when missing.
func (s *PendingActionStore) Create(ctx context.Context, pending *types.PendingAction) error {
	if pending.ID == "" {
		pending.ID = uuid.NewString()
	}
	if pending.Status == "" {
		pending.Status = types.PendingStatusPending
	}
	now := time.Now().UTC()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}
	pending.UpdatedAt = now

	_, err := s.coll.InsertOne(ctx, pending)
	return err
}

// Due returns PENDING actions whose scheduled time has arrived, oldest first.
func (s *PendingActionStore) Due(ctx context.Context, now time.Time) ([]types.PendingAction, error) {
	filter := bson.M{
		"status":       types.PendingStatusPending,
		"scheduled_at": bson.M{"$lte": now},
	}

	opts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var due []types.PendingAction
	if err := cursor.All(ctx, &due); err != nil {
		return nil, err
	}
	return due, nil
}

// MarkExecuted transitions a PENDING action to EXECUTED. Returns ErrNotFound
// if the action does not exist or was already transitioned.
func (s *PendingActionStore) MarkExecuted(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{
			"status":     types.PendingStatusExecuted,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "status": types.PendingStatusPending}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkFailed records a failure outcome regardless of the current status, so
// a half-finished transition can still be downgraded.
func (s *PendingActionStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        types.PendingStatusFailed,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
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
