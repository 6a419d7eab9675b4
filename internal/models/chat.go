// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// MemberState tracks where a user sits in a conversation's membership lifecycle.
type MemberState string

const (
	// MemberStateActive indicates a full member of the conversation.
	MemberStateActive MemberState = "active"
	// MemberStatePending indicates an invited user (group) or a chat request
	// recipient (private) who has not accepted yet.
	MemberStatePending MemberState = "pending"
)

// Message type discriminators.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// MaxGroupNameLen is the upper bound on group conversation names.
const MaxGroupNameLen = 50

// MinGroupMembers is the minimum number of distinct intended members
// (creator included) required to create a group conversation.
const MinGroupMembers = 3

// Conversation represents a private (2-party) or group (>=3-party) thread.
type Conversation struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	IsGroup       bool           `gorm:"default:false" json:"is_group"`
	Name          string         `json:"name,omitempty"`   // group only
	Avatar        string         `json:"avatar,omitempty"` // group only
	CreatedBy     uint           `gorm:"not null;index" json:"created_by"`
	LastMessageID *uint          `json:"last_message_id,omitempty"`
	LastMessage   *Message       `gorm:"foreignKey:LastMessageID" json:"last_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Memberships []ConversationMember `gorm:"foreignKey:ConversationID" json:"memberships,omitempty"`

	// UnreadCount is computed per acting user when listing conversations.
	UnreadCount int64 `gorm:"-" json:"unread_count"`
}

// MemberIDs returns the user IDs in the given state.
func (c *Conversation) MemberIDs(state MemberState) []uint {
	ids := make([]uint, 0, len(c.Memberships))
	for _, m := range c.Memberships {
		if m.State == state {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// Membership returns the membership row for userID, or nil.
func (c *Conversation) Membership(userID uint) *ConversationMember {
	for i := range c.Memberships {
		if c.Memberships[i].UserID == userID {
			return &c.Memberships[i]
		}
	}
	return nil
}

// IsActiveMember reports whether userID is a full member.
func (c *Conversation) IsActiveMember(userID uint) bool {
	m := c.Membership(userID)
	return m != nil && m.State == MemberStateActive
}

// IsPendingMember reports whether userID is awaiting acceptance.
func (c *Conversation) IsPendingMember(userID uint) bool {
	m := c.Membership(userID)
	return m != nil && m.State == MemberStatePending
}

// IsAdmin reports whether userID holds elevated group rights.
func (c *Conversation) IsAdmin(userID uint) bool {
	m := c.Membership(userID)
	return m != nil && m.State == MemberStateActive && m.IsAdmin
}

// ConversationMember is the membership row for a user in a conversation.
// A single row per (conversation, user) encodes active/pending state, admin
// rights and the user's read cursor, so active and pending sets are disjoint
// by construction.
type ConversationMember struct {
	ConversationID    uint        `gorm:"primaryKey" json:"conversation_id"`
	UserID            uint        `gorm:"primaryKey" json:"user_id"`
	State             MemberState `gorm:"type:varchar(16);default:'active';index" json:"state"`
	IsAdmin           bool        `gorm:"default:false" json:"is_admin"`
	LastReadMessageID *uint       `json:"last_read_message_id,omitempty"`
	JoinedAt          time.Time   `gorm:"autoCreateTime" json:"joined_at"`
	UpdatedAt         time.Time   `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Message represents a chat message. Immutable after creation except for its
// reactions set.
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID uint           `gorm:"not null;index:idx_messages_conv_created" json:"conversation_id"`
	SenderID       uint           `gorm:"not null;index" json:"sender_id"`
	Sender         *User          `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content        string         `gorm:"type:text" json:"content,omitempty"`
	Type           string         `gorm:"type:varchar(16);default:'text'" json:"type"`
	FileURL        string         `json:"file_url,omitempty"`
	CreatedAt      time.Time      `gorm:"index:idx_messages_conv_created" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Reactions []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions"`
}

// MessageReaction is one (user, emoji) annotation on a message. At most one
// row may exist per (message, user, emoji); toggling flips existence.
type MessageReaction struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reaction_identity" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reaction_identity" json:"user_id"`
	Emoji     string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_reaction_identity" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (MessageReaction) TableName() string {
	return "message_reactions"
}
