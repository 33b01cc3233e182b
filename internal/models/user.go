package models

import (
	"time"
)

// User mirrors an account owned by the external identity provider. The core
// only needs SubjectID -> ID resolution and the public profile fields.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SubjectID string    `gorm:"uniqueIndex;not null" json:"-"` // auth provider "sub"
	Name      string    `json:"name"`
	Username  string    `gorm:"index" json:"username"`
	Bio       string    `gorm:"size:200" json:"bio"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
