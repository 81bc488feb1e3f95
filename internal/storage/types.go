// Package storage defines the persistence model shared by the workflow
// stores and their Mongo implementation.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when trying to create an entity that already exists
	ErrExists = errors.New("already exists")
)

// Document represents a stored tenant record
type Document struct {
	// ID is the unique identifier for the record
	ID string `json:"id" bson:"_id"`

	// TenantID scopes the record to its tenant
	TenantID string `json:"tenantId" bson:"tenant_id"`

	// Collection is the logical collection name within the tenant
	Collection string `json:"collection" bson:"collection"`

	// Data is the actual content of the record
	Data map[string]any `json:"data" bson:"data"`

	// Version is the optimistic concurrency control version
	Version int64 `json:"version" bson:"version"`

	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// Collection is the catalog entry for a tenant-defined collection.
type Collection struct {
	ID        string    `json:"id" bson:"_id"`
	TenantID  string    `json:"tenantId" bson:"tenant_id"`
	Name      string    `json:"name" bson:"name"`
	Label     string    `json:"label,omitempty" bson:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}
