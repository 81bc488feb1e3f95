package mongo

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// ExecutionLogStore persists per-execution audit entries.
type ExecutionLogStore struct {
	coll *mongo.Collection
}

func NewExecutionLogStore(db *mongo.Database) *ExecutionLogStore {
	return &ExecutionLogStore{coll: db.Collection(executionLogsCollection)}
}

// Create inserts a new execution log entry, assigning an id when missing.
func (s *ExecutionLogStore) Create(ctx context.Context, entry *types.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.coll.InsertOne(ctx, entry)
	return err
}

// Update replaces an existing execution log entry.
func (s *ExecutionLogStore) Update(ctx context.Context, entry *types.ExecutionLog) error {
	result, err := s.coll.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ActionLogStore persists per-attempt action audit entries.
type ActionLogStore struct {
	coll *mongo.Collection
}

func NewActionLogStore(db *mongo.Database) *ActionLogStore {
	return &ActionLogStore{coll: db.Collection(actionLogsCollection)}
}

// Append inserts a new action log entry, assigning an id when missing.
func (s *ActionLogStore) Append(ctx context.Context, entry *types.ActionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.coll.InsertOne(ctx, entry)
	return err
}
