// Package realtime is the in-process pub/sub bus that fans document
// progress out to SSE subscribers. For multi-replica deployments the bus
// interface is the seam where a shared broker would slot in.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Document event types delivered to subscribers.
const (
	EventDocumentCreated    = "document.created"
	EventDocumentUpdated    = "document.updated"
	EventDocumentProcessing = "document.processing"
	EventDocumentCompleted  = "document.completed"
	EventDocumentFailed     = "document.failed"
	EventDocumentDeleted    = "document.deleted"
)

// TopicDocuments receives every document event regardless of owner.
const TopicDocuments = "document"

// UserTopic returns the per-owner topic documents events route to.
func UserTopic(userID string) string {
	return "document:" + userID
}

// Event is one ephemeral pub/sub payload. Events are never persisted;
// subscribers treat the snapshot's status as the source of truth, not the
// delivery order.
type Event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  int64          `json:"sequence"`
}

// NewEvent creates an event; the bus assigns the sequence number.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		ID:        uuid.New().String(),
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
