// Package events defines the canonical change-event schema consumed by the
// workflow engine. All producers MUST publish events in this shape.
package events

import "time"

// ChangeType represents the kind of record mutation an event describes.
type ChangeType string

const (
	ChangeCreated ChangeType = "CREATED"
	ChangeUpdated ChangeType = "UPDATED"
	ChangeDeleted ChangeType = "DELETED"
)

// IsValid checks if the change type is a known valid type.
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return true
	default:
		return false
	}
}

// ChangeEvent describes one committed record mutation. Events are immutable
// once published; consumers never write back to them.
type ChangeEvent struct {
	// Identity
	EventID    string `json:"eventId"`
	TenantID   string `json:"tenantId"`
	Collection string `json:"collection"`
	RecordID   string `json:"recordId"`

	// Mutation
	Type         ChangeType     `json:"changeType"`
	Data         map[string]any `json:"data,omitempty"`
	PreviousData map[string]any `json:"previousData,omitempty"`

	// ChangedFields lists top-level field names touched by an update.
	// Empty for creates and deletes.
	ChangedFields []string `json:"changedFields,omitempty"`

	// Metadata
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeEvent creates a ChangeEvent stamped with the current time.
func NewChangeEvent(eventID, tenantID, collection, recordID string, changeType ChangeType) *ChangeEvent {
	return &ChangeEvent{
		EventID:    eventID,
		TenantID:   tenantID,
		Collection: collection,
		RecordID:   recordID,
		Type:       changeType,
		Timestamp:  time.Now().UTC(),
	}
}

// WithData sets the post-change record data and returns the event for chaining.
func (e *ChangeEvent) WithData(data map[string]any) *ChangeEvent {
	e.Data = data
	return e
}

// WithPreviousData sets the pre-change record data and returns the event for chaining.
func (e *ChangeEvent) WithPreviousData(data map[string]any) *ChangeEvent {
	e.PreviousData = data
	return e
}

// WithChangedFields sets the touched field names and returns the event for chaining.
func (e *ChangeEvent) WithChangedFields(fields []string) *ChangeEvent {
	e.ChangedFields = fields
	return e
}

// WithUser sets the acting user and returns the event for chaining.
func (e *ChangeEvent) WithUser(userID string) *ChangeEvent {
	e.UserID = userID
	return e
}
