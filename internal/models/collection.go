package models

import (
	"time"

	"gorm.io/gorm"
)

// MaxCollectionPrompts caps how many prompts one collection may reference.
const MaxCollectionPrompts = 100

type Collection struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	UserID      string    `gorm:"not null;index" json:"user_id"`
	IsPublic    bool      `gorm:"default:true;index" json:"is_public"`
	IsFeatured  bool      `gorm:"default:false" json:"is_featured"`
	CategoryID  *string   `gorm:"type:uuid;index" json:"category_id"`
	ViewCount   int       `gorm:"default:0" json:"view_count"`
	LikeCount   int       `gorm:"default:0" json:"like_count"`
	PromptCount int       `gorm:"default:0" json:"prompt_count"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Category *string `gorm:"-" json:"category"`
}

func (c *Collection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}

// CollectionPrompt is the ordered join row between a collection and a prompt.
type CollectionPrompt struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	CollectionID string    `gorm:"type:uuid;not null;uniqueIndex:idx_collection_prompt" json:"collection_id"`
	PromptID     string    `gorm:"type:uuid;not null;uniqueIndex:idx_collection_prompt;index" json:"prompt_id"`
	OrderIndex   int       `gorm:"not null;default:0" json:"order_index"`
	AddedAt      time.Time `gorm:"autoCreateTime" json:"added_at"`
}

func (cp *CollectionPrompt) BeforeCreate(tx *gorm.DB) error {
	if cp.ID == "" {
		cp.ID = NewID()
	}
	return nil
}
