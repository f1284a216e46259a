package models

import (
	"time"

	"github.com/lib/pq"
)

// Persona is an entity-selected system prompt. At most one persona is
// active per entity; when none is, the default prompt applies.
type Persona struct {
	ID           string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EntityID     string         `gorm:"column:entity_id;type:text;index" json:"entity_id"`
	Name         string         `gorm:"column:name;type:text" json:"name"`
	SystemPrompt string         `gorm:"column:system_prompt;type:text" json:"system_prompt"`
	Tags         pq.StringArray `gorm:"column:tags;type:text[]" json:"tags"`
	Active       bool           `gorm:"column:active;index" json:"active"`
	CreatedAt    time.Time      `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Persona) TableName() string { return "personas" }
