package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trellis/internal/storage"
	"trellis/internal/workflow/types"
)

// ActionTypeStore reads the installed action type catalog.
type ActionTypeStore struct {
	coll *mongo.Collection
}

func NewActionTypeStore(db *mongo.Database) *ActionTypeStore {
	return &ActionTypeStore{coll: db.Collection(actionTypesCollection)}
}

// ActiveTypes returns every active catalog entry.
func (s *ActionTypeStore) ActiveTypes(ctx context.Context) ([]types.ActionType, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, err
	}

	var actionTypes []types.ActionType
	if err := cursor.All(ctx, &actionTypes); err != nil {
		return nil, err
	}
	return actionTypes, nil
}

// CollectionStore resolves tenant collection names to catalog entries.
type CollectionStore struct {
	coll *mongo.Collection
}

func NewCollectionStore(db *mongo.Database) *CollectionStore {
	return &CollectionStore{coll: db.Collection(collectionsCollection)}
}

// GetByName returns the collection catalog entry for a tenant-scoped name.
func (s *CollectionStore) GetByName(ctx context.Context, tenantID, name string) (*storage.Collection, error) {
	var collection storage.Collection
	err := s.coll.FindOne(ctx, bson.M{"tenant_id": tenantID, "name": name}).Decode(&collection)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &collection, nil
}

// GetByID returns the collection catalog entry for a tenant-scoped id.
func (s *CollectionStore) GetByID(ctx context.Context, tenantID, id string) (*storage.Collection, error) {
	var collection storage.Collection
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&collection)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &collection, nil
}
