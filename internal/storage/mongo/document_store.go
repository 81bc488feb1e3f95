package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"trellis/internal/storage"
)

// DocumentStore reads and mutates tenant records on behalf of action
// handlers.
type DocumentStore struct {
	coll *mongo.Collection
}

func NewDocumentStore(db *mongo.Database) *DocumentStore {
	return &DocumentStore{coll: db.Collection(recordsCollection)}
}

// Get retrieves a record by id within a tenant. An empty collection name
// matches any collection.
func (s *DocumentStore) Get(ctx context.Context, tenantID, collection, recordID string) (*storage.Document, error) {
	filter := bson.M{"_id": recordID, "tenant_id": tenantID}
	if collection != "" {
		filter["collection"] = collection
	}

	var doc storage.Document
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Create inserts a new record. Fails with ErrExists if the id is taken.
func (s *DocumentStore) Create(ctx context.Context, tenantID string, doc *storage.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.TenantID = tenantID

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Version == 0 {
		doc.Version = 1
	}

	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrExists
	}
	return err
}

// Patch sets individual data fields on an existing record and bumps its
// version.
func (s *DocumentStore) Patch(ctx context.Context, tenantID, collection, recordID string, data map[string]any) error {
	filter := bson.M{"_id": recordID, "tenant_id": tenantID}
	if collection != "" {
		filter["collection"] = collection
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range data {
		set["data."+k] = v
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}

	result, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
