package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const RoleAdmin = "admin"

// Profile is the local record of an identity: login credentials, nickname and
// free-form metadata. The role claim lives in Metadata["role"].
type Profile struct {
	UserID       string            `gorm:"type:uuid;primaryKey" json:"user_id"`
	Email        string            `gorm:"uniqueIndex;not null" json:"email"`
	Nickname     string            `gorm:"size:30" json:"nickname"`
	PasswordHash string            `gorm:"not null" json:"-"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.UserID == "" {
		p.UserID = NewID()
	}
	return nil
}

// Role returns the role claim, or "" when absent or not a string.
func (p *Profile) Role() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	role, _ := p.Metadata["role"].(string)
	return role
}

func (p *Profile) IsAdmin() bool {
	return p.Role() == RoleAdmin
}

// AuthToken is an opaque bearer credential issued at login.
type AuthToken struct {
	Token     string    `gorm:"primaryKey;size:64" json:"token"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *AuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
