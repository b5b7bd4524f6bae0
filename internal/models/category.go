package models

import (
	"time"

	"gorm.io/gorm"
)

// Category is static reference data for prompts.
type Category struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `gorm:"not null;uniqueIndex" json:"name"`
	DisplayOrder int       `gorm:"default:0" json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}

// CollectionCategory groups collections. Inactive rows are hidden from pickers
// but still resolve names for collections that reference them.
type CollectionCategory struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `gorm:"not null;uniqueIndex" json:"name"`
	Description  string    `json:"description"`
	IconName     string    `json:"icon_name"`
	DisplayOrder int       `gorm:"default:0" json:"display_order"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *CollectionCategory) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}
