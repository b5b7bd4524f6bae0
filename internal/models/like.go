package models

import (
	"time"

	"gorm.io/gorm"
)

// Like is one row per (user, prompt).
type Like struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	PromptID  string    `gorm:"type:uuid;not null;index;uniqueIndex:idx_like_user_prompt" json:"prompt_id"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_like_user_prompt" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (l *Like) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	return nil
}

type CollectionLike struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	CollectionID string    `gorm:"type:uuid;not null;index;uniqueIndex:idx_like_user_collection" json:"collection_id"`
	UserID       string    `gorm:"not null;uniqueIndex:idx_like_user_collection" json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func (l *CollectionLike) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	return nil
}
