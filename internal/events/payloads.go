package events

import (
	"time"

	"github.com/palaver-chat/palaver/internal/db"
	"github.com/palaver-chat/palaver/internal/protocol"
)

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

// TracePresenceRequest is the data of an onlineStatusTracingAdding frame.
type TracePresenceRequest struct {
	UserID int64 `json:"userId"`
}

// NewChatRequest is the data of a newChat frame.
type NewChatRequest struct {
	UserIDs []int64 `json:"userIds"`
	Name    string  `json:"name"`
	IsGroup bool    `json:"isGroup"`
}

// NewChatMessageRequest is the data of a newChatMessage frame. StorageID
// references attached files uploaded through the HTTP API.
type NewChatMessageRequest struct {
	ChatID    int64  `json:"chatId"`
	Text      string `json:"text"`
	StorageID string `json:"storageId"`
}

// TypingRequest is the data of a newChatMessageTyping frame.
type TypingRequest struct {
	ChatID int64 `json:"chatId"`
}

// MessageReadRequest is the data of a chatMessageWasRead frame.
type MessageReadRequest struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
}

// -----------------------------------------------------------------------------
// Outbound payloads
// -----------------------------------------------------------------------------

// Statuses maps user ids to their online flag. Keys are encoded as JSON
// object keys: {"1":true}.
type Statuses map[int64]bool

// ChatPayload is the data of an outbound newChat frame, personalised with the
// recipient's unread counter.
type ChatPayload struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	IsGroup     bool    `json:"isGroup"`
	UserIDs     []int64 `json:"userIds"`
	UnreadCount int     `json:"unreadCount"`
}

// MessagePayload is the data of an outbound newChatMessage frame.
type MessagePayload struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chatId"`
	SenderID  int64     `json:"senderId"`
	Text      string    `json:"text"`
	StorageID *string   `json:"storageId"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// TypingPayload is the data of an outbound newChatMessageTyping frame.
type TypingPayload struct {
	ChatID int64 `json:"chatId"`
	UserID int64 `json:"userId"`
}

// UnreadCountPayload is the data of an outbound newUnreadCount frame.
type UnreadCountPayload struct {
	ChatID int64 `json:"chatId"`
	Count  int   `json:"count"`
}

// ReadMessagesPayload is the data of an outbound readChatMessages frame.
type ReadMessagesPayload struct {
	ChatID     int64   `json:"chatId"`
	MessageIDs []int64 `json:"messageIds"`
}

func statusMessage(s Statuses) protocol.Message {
	return protocol.Message{Type: protocol.TypeInterlocutorsOnlineStatuses, Data: s}
}

func messagePayload(m *db.Message) MessagePayload {
	p := MessagePayload{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
	if m.StorageID != "" {
		id := m.StorageID
		p.StorageID = &id
	}
	return p
}
