package models

import "time"

// User is the rate-limited principal: an individual end user or a
// group channel, keyed by the platform-assigned entity id.
type User struct {
	EntityID      string    `gorm:"column:entity_id;type:text;primaryKey" json:"entity_id"`
	Username      string    `gorm:"column:username;type:text" json:"username"`
	FirstName     string    `gorm:"column:first_name;type:text" json:"first_name"`
	LastName      string    `gorm:"column:last_name;type:text" json:"last_name"`
	SelectedModel string    `gorm:"column:selected_model;type:text" json:"selected_model"`
	Privileged    bool      `gorm:"column:privileged" json:"privileged"`
	Banned        bool      `gorm:"column:banned" json:"banned"`
	MessageCount  int64     `gorm:"column:message_count" json:"message_count"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (User) TableName() string { return "users" }
