package db

import (
	"strconv"
	"time"
)

// Base contains the common fields shared by the id-keyed models. IDs are
// auto-incrementing integers: clients address users, chats and messages by
// number, and message ids double as the chronological order within a chat.
// It must stay exported: GORM only maps exported embedded structs.
type Base struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// User is the display identity of an account. Credentials are owned by the
// HTTP side and never stored here.
type User struct {
	Base
	Email       string `gorm:"uniqueIndex;not null"`
	DisplayName string `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Chats
// -----------------------------------------------------------------------------

// Chat is a conversation between two (private) or more (group) users.
// Membership lives in ChatMember rows.
//
// PrivatePair is "<low id>:<high id>" for a two-member private chat and NULL
// otherwise. Its unique index allows at most one private chat per pair.
type Chat struct {
	Base
	Name        string  `gorm:"not null;default:''"`
	IsGroup     bool    `gorm:"not null;default:false"`
	PrivatePair *string `gorm:"uniqueIndex"`
}

// PrivatePairKey returns the PrivatePair value of the private chat between a
// and b, in either order.
func PrivatePairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

// ChatMember links a user to a chat.
type ChatMember struct {
	ChatID    int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64     `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time `gorm:"not null"`
}

// Message is a single chat message. IsRead flips once any recipient reads it;
// what each member has read is tracked by UnreadCount.LastReadID.
// StorageID references attached files kept by the HTTP file storage.
type Message struct {
	Base
	ChatID    int64  `gorm:"not null;index"`
	SenderID  int64  `gorm:"not null"`
	Text      string `gorm:"type:text;not null;default:''"`
	StorageID string `gorm:"not null;default:''"`
	IsRead    bool   `gorm:"not null;default:false"`
}

// UnreadCount is the per-user, per-chat read state: the counter of unread
// messages and the id of the newest message the user has read. One row is
// created for every member when the chat is created.
type UnreadCount struct {
	UserID     int64 `gorm:"primaryKey;autoIncrement:false"`
	ChatID     int64 `gorm:"primaryKey;autoIncrement:false"`
	Count      int   `gorm:"not null;default:0"`
	LastReadID int64 `gorm:"column:last_read_message_id;not null;default:0"`
}
