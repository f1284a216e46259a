package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Relay run statuses.
const (
	RunPending   = "pending"
	RunStreaming = "streaming"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunDenied    = "denied"
)

// RelayRun tracks one pipeline invocation end to end. Documents are
// short-lived operational records and expire via the TTL index on
// ExpiresAt.
type RelayRun struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RunID          string             `bson:"run_id" json:"run_id"`
	EntityID       string             `bson:"entity_id" json:"entity_id"`
	ConversationID string             `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	Model          string             `bson:"model,omitempty" json:"model,omitempty"`

	Status string `bson:"status" json:"status"` // pending|streaming|completed|failed|denied
	Error  string `bson:"error,omitempty" json:"error,omitempty"`

	ResponseChars    int   `bson:"response_chars,omitempty" json:"response_chars,omitempty"`
	Segments         int   `bson:"segments,omitempty" json:"segments,omitempty"`
	ProcessingTimeMS int64 `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`

	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
