package repositories

import (
	"context"

	"github.com/palaver-chat/palaver/internal/db"
)

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id int64) (*db.User, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)

	// Exists reports whether every id in ids belongs to a user.
	Exists(ctx context.Context, ids ...int64) (bool, error)
}

// -----------------------------------------------------------------------------
// ChatRepository
// -----------------------------------------------------------------------------

// ChatRepository is the persistence contract consumed by the event handlers.
// Every mutating call re-checks what it needs inside its own transaction;
// callers must not skip ChatAccess because they validated membership earlier.
type ChatRepository interface {
	// ChatAccess returns the chat if userID is a member of it. A missing chat
	// and a chat the user is not part of both yield ErrPermissionDenied.
	ChatAccess(ctx context.Context, userID, chatID int64) (*db.Chat, error)

	// CreateChat inserts the chat, one membership row per member and a
	// zeroed unread counter per member, atomically. A second private chat
	// between the same two users yields ErrConflict.
	CreateChat(ctx context.Context, memberIDs []int64, name string, isGroup bool) (*db.Chat, error)

	// PrivateChatExists reports whether a private chat between a and b
	// already exists.
	PrivateChatExists(ctx context.Context, a, b int64) (bool, error)

	// ChatMembers returns the member ids of a chat in ascending order.
	ChatMembers(ctx context.Context, chatID int64) ([]int64, error)

	// Interlocutors returns, in ascending order, every user sharing at least
	// one chat with userID, excluding userID itself.
	Interlocutors(ctx context.Context, userID int64) ([]int64, error)

	// CreateMessage persists msg and increments the unread counter of every
	// user in recipients in the same transaction. It returns the new counter
	// value per recipient.
	CreateMessage(ctx context.Context, msg *db.Message, recipients []int64) (map[int64]int, error)

	// UnreadMessages returns the messages of chatID that userID has not read
	// (sent by someone else, newer than the user's read watermark), oldest
	// first. Reads by other members do not affect the result.
	UnreadMessages(ctx context.Context, chatID, userID int64) ([]db.Message, error)

	// MarkMessagesRead advances userID's read watermark in chatID to the
	// newest of the given messages and lowers the user's counter once per
	// message that was still unread for that user. It returns how many
	// messages were newly read and the resulting counter value.
	MarkMessagesRead(ctx context.Context, userID, chatID int64, messageIDs []int64) (int64, int, error)

	// UnreadCount returns userID's counter for chatID, zero when absent.
	UnreadCount(ctx context.Context, userID, chatID int64) (int, error)
}
