package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/palaver-chat/palaver/internal/db"
)

// gormChatRepository is the GORM implementation of ChatRepository.
type gormChatRepository struct {
	db *gorm.DB
}

// NewChatRepository returns a ChatRepository backed by the provided *gorm.DB.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &gormChatRepository{db: db}
}

// ChatAccess returns the chat when userID is one of its members.
func (r *gormChatRepository) ChatAccess(ctx context.Context, userID, chatID int64) (*db.Chat, error) {
	var chat db.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_members ON chat_members.chat_id = chats.id").
		Where("chats.id = ? AND chat_members.user_id = ?", chatID, userID).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("chats: access: %w", err)
	}
	return &chat, nil
}

// CreateChat inserts the chat with its memberships and zeroed counters in a
// single transaction. Duplicate member ids are collapsed. Returns ErrNotFound
// if any member id does not belong to a user, and ErrConflict if a private
// chat between the two members already exists.
func (r *gormChatRepository) CreateChat(ctx context.Context, memberIDs []int64, name string, isGroup bool) (*db.Chat, error) {
	members := uniqueIDs(memberIDs)
	if len(members) == 0 {
		return nil, fmt.Errorf("chats: create: no members")
	}

	chat := &db.Chat{Name: name, IsGroup: isGroup}
	if !isGroup && len(members) == 2 {
		key := db.PrivatePairKey(members[0], members[1])
		chat.PrivatePair = &key
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := usersExist(tx, members)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}

		if err := tx.Create(chat).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}

		rows := make([]db.ChatMember, 0, len(members))
		counters := make([]db.UnreadCount, 0, len(members))
		for _, id := range members {
			rows = append(rows, db.ChatMember{ChatID: chat.ID, UserID: id})
			counters = append(counters, db.UnreadCount{UserID: id, ChatID: chat.ID})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Create(&counters).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("chats: create: %w", err)
	}
	return chat, nil
}

// PrivateChatExists reports whether a and b already share a private chat.
func (r *gormChatRepository) PrivateChatExists(ctx context.Context, a, b int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&db.Chat{}).
		Where("private_pair = ?", db.PrivatePairKey(a, b)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("chats: private chat exists: %w", err)
	}
	return n > 0, nil
}

// ChatMembers returns the member ids of chatID in ascending order.
func (r *gormChatRepository) ChatMembers(ctx context.Context, chatID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&db.ChatMember{}).
		Where("chat_id = ?", chatID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("chats: members: %w", err)
	}
	return ids, nil
}

// Interlocutors returns every user sharing a chat with userID.
func (r *gormChatRepository) Interlocutors(ctx context.Context, userID int64) ([]int64, error) {
	chats := r.db.Model(&db.ChatMember{}).Select("chat_id").Where("user_id = ?", userID)

	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&db.ChatMember{}).
		Distinct("user_id").
		Where("chat_id IN (?)", chats).
		Where("user_id <> ?", userID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("chats: interlocutors: %w", err)
	}
	return ids, nil
}

// CreateMessage persists msg and bumps the counter of each recipient.
func (r *gormChatRepository) CreateMessage(ctx context.Context, msg *db.Message, recipients []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(recipients))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		for _, userID := range uniqueIDs(recipients) {
			res := tx.Model(&db.UnreadCount{}).
				Where("user_id = ? AND chat_id = ?", userID, msg.ChatID).
				Update("count", gorm.Expr("count + ?", 1))
			if res.Error != nil {
				return res.Error
			}
			// Counters are created with the chat; a missing row means the
			// member was added by something outside this service.
			if res.RowsAffected == 0 {
				if err := tx.Create(&db.UnreadCount{UserID: userID, ChatID: msg.ChatID, Count: 1}).Error; err != nil {
					return err
				}
			}

			n, err := unreadCount(tx, userID, msg.ChatID)
			if err != nil {
				return err
			}
			counts[userID] = n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("messages: create: %w", err)
	}
	return counts, nil
}

// UnreadMessages returns the messages of chatID that userID has not read
// yet, oldest first: those sent by other members after the user's read
// watermark.
func (r *gormChatRepository) UnreadMessages(ctx context.Context, chatID, userID int64) ([]db.Message, error) {
	watermark := r.db.Model(&db.UnreadCount{}).
		Select("last_read_message_id").
		Where("user_id = ? AND chat_id = ?", userID, chatID)

	var msgs []db.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND sender_id <> ?", chatID, userID).
		Where("id > COALESCE((?), 0)", watermark).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("messages: unread: %w", err)
	}
	return msgs, nil
}

// MarkMessagesRead moves the reader's watermark up to the newest of the given
// messages and lowers the counter by the number of them that were still
// unread for this user. messageIDs is expected to be a prefix of
// UnreadMessages. Returns the number of newly read messages and the new
// counter, which never goes below zero.
//
// The watermark update is conditional on the value read at the start, so two
// concurrent reads by the same user cannot both lower the counter.
func (r *gormChatRepository) MarkMessagesRead(ctx context.Context, userID, chatID int64, messageIDs []int64) (int64, int, error) {
	if len(messageIDs) == 0 {
		n, err := r.UnreadCount(ctx, userID, chatID)
		return 0, n, err
	}

	var (
		newlyRead int64
		count     int
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state db.UnreadCount
		err := tx.Where("user_id = ? AND chat_id = ?", userID, chatID).Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = db.UnreadCount{UserID: userID, ChatID: chatID}
			err = tx.Create(&state).Error
		}
		if err != nil {
			return err
		}

		var ids []int64
		err = tx.Model(&db.Message{}).
			Where("chat_id = ? AND id IN ? AND sender_id <> ? AND id > ?", chatID, messageIDs, userID, state.LastReadID).
			Order("id ASC").
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			count = state.Count
			return nil
		}

		n := len(ids)
		res := tx.Model(&db.UnreadCount{}).
			Where("user_id = ? AND chat_id = ? AND last_read_message_id = ?", userID, chatID, state.LastReadID).
			Updates(map[string]any{
				"last_read_message_id": ids[n-1],
				"count":                gorm.Expr("CASE WHEN count > ? THEN count - ? ELSE 0 END", n, n),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			newlyRead = int64(n)
			err := tx.Model(&db.Message{}).
				Where("id IN ? AND is_read = ?", ids, false).
				Update("is_read", true).Error
			if err != nil {
				return err
			}
		}

		c, err := unreadCount(tx, userID, chatID)
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("messages: mark read: %w", err)
	}
	return newlyRead, count, nil
}

// UnreadCount returns the counter for (userID, chatID), zero when absent.
func (r *gormChatRepository) UnreadCount(ctx context.Context, userID, chatID int64) (int, error) {
	n, err := unreadCount(r.db.WithContext(ctx), userID, chatID)
	if err != nil {
		return 0, fmt.Errorf("unread_counts: get: %w", err)
	}
	return n, nil
}

func unreadCount(tx *gorm.DB, userID, chatID int64) (int, error) {
	var row db.UnreadCount
	err := tx.Where("user_id = ? AND chat_id = ?", userID, chatID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.Count, nil
}
