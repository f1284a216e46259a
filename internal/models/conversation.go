package models

import (
	"time"

	"gorm.io/datatypes"
)

// Turn roles. The leading system turn is synthesized by the context
// assembler and never persisted.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation groups an entity's turns. At most one conversation per
// entity is active; clearing ends it and a fresh one is created on the
// next message.
type Conversation struct {
	ID        string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EntityID  string     `gorm:"column:entity_id;type:text;index" json:"entity_id"`
	Active    bool       `gorm:"column:active;index" json:"active"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	EndedAt   *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at,omitempty"`
}

func (Conversation) TableName() string { return "conversations" }

// Turn is one role-tagged message in a conversation's history.
// Appends are chronological; Seq is assigned by the store and gives a
// total order within the conversation.
type Turn struct {
	ID             string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;index" json:"conversation_id"`
	Seq            int64          `gorm:"column:seq;autoIncrement" json:"seq"`
	Role           string         `gorm:"column:role;type:text" json:"role"` // "user" | "assistant"
	Content        string         `gorm:"column:content;type:text" json:"content"`
	TokensUsed     int            `gorm:"column:tokens_used" json:"tokens_used"`
	ModelUsed      string         `gorm:"column:model_used;type:text" json:"model_used"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	Timestamp      time.Time      `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
}

func (Turn) TableName() string { return "turns" }
