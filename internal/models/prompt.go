package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewID returns a fresh record id. Postgres stores it as uuid.
func NewID() string {
	return uuid.NewString()
}

type Prompt struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string    `gorm:"not null" json:"title"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	UserID     string    `gorm:"not null;index" json:"user_id"`
	CategoryID *string   `gorm:"type:uuid;index" json:"category_id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Filled at read time, not stored.
	Category  *string `gorm:"-" json:"category"`
	LikeCount int     `gorm:"-" json:"likeCount"`
}

func (p *Prompt) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	return nil
}
