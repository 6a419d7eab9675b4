package models

import (
	"time"

	"gorm.io/gorm"
)

// User mirrors the identity collaborator's view of an account. The messaging
// core never authenticates users itself; it consumes the authenticated user id
// from the JWT boundary and uses this row for display summaries and block
// lookups.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;not null" json:"username"`
	Email        string         `gorm:"uniqueIndex;not null" json:"-"`
	PasswordHash string         `gorm:"not null" json:"-"`
	Avatar       string         `json:"avatar,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// UserBlock records that blocker has blocked blocked. Block status is
// symmetric for messaging purposes: either direction suppresses new private
// conversations and sends.
type UserBlock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BlockerID uint      `gorm:"not null;uniqueIndex:idx_user_block_pair" json:"blocker_id"`
	BlockedID uint      `gorm:"not null;uniqueIndex:idx_user_block_pair" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is the compact user shape embedded in conversation and message
// payloads.
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Summary returns the compact payload shape for the user.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}
