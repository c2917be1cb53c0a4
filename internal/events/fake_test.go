package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/palaver-chat/palaver/internal/db"
	"github.com/palaver-chat/palaver/internal/repositories"
)

// fakeStore is an in-memory implementation of both repositories used by the
// handler tests.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]bool
	chats    map[int64]*db.Chat
	members  map[int64][]int64
	messages []*db.Message
	unread   map[[2]int64]int
	lastRead map[[2]int64]int64
	nextChat int64
	nextMsg  int64

	// hidePrivateChats makes PrivateChatExists report false, as when two
	// requests for the same pair pass the check before either is stored.
	hidePrivateChats bool
}

func newFakeStore(userIDs ...int64) *fakeStore {
	s := &fakeStore{
		users:    make(map[int64]bool),
		chats:    make(map[int64]*db.Chat),
		members:  make(map[int64][]int64),
		unread:   make(map[[2]int64]int),
		lastRead: make(map[[2]int64]int64),
	}
	for _, id := range userIDs {
		s.users[id] = true
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, u *db.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = int64(len(s.users) + 1)
	s.users[u.ID] = true
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id int64) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.users[id] {
		return nil, repositories.ErrNotFound
	}
	u := &db.User{}
	u.ID = id
	return u, nil
}

func (s *fakeStore) GetByEmail(context.Context, string) (*db.User, error) {
	return nil, repositories.ErrNotFound
}

func (s *fakeStore) Exists(_ context.Context, ids ...int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if !s.users[id] {
			return false, nil
		}
	}
	return true, nil
}

func (s *fakeStore) ChatAccess(_ context.Context, userID, chatID int64) (*db.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || !slices.Contains(s.members[chatID], userID) {
		return nil, repositories.ErrPermissionDenied
	}
	return chat, nil
}

func (s *fakeStore) CreateChat(_ context.Context, memberIDs []int64, name string, isGroup bool) (*db.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range memberIDs {
		if !s.users[id] {
			return nil, repositories.ErrNotFound
		}
	}
	if !isGroup && len(memberIDs) == 2 && s.privateChat(memberIDs[0], memberIDs[1]) {
		return nil, repositories.ErrConflict
	}
	s.nextChat++
	chat := &db.Chat{Name: name, IsGroup: isGroup}
	chat.ID = s.nextChat
	s.chats[chat.ID] = chat
	ids := slices.Clone(memberIDs)
	slices.Sort(ids)
	s.members[chat.ID] = ids
	for _, id := range ids {
		s.unread[[2]int64{id, chat.ID}] = 0
	}
	return chat, nil
}

func (s *fakeStore) PrivateChatExists(_ context.Context, a, b int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidePrivateChats {
		return false, nil
	}
	return s.privateChat(a, b), nil
}

func (s *fakeStore) privateChat(a, b int64) bool {
	for id, chat := range s.chats {
		m := s.members[id]
		if !chat.IsGroup && len(m) == 2 && slices.Contains(m, a) && slices.Contains(m, b) {
			return true
		}
	}
	return false
}

func (s *fakeStore) ChatMembers(_ context.Context, chatID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.members[chatID]), nil
}

func (s *fakeStore) Interlocutors(_ context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, m := range s.members {
		if !slices.Contains(m, userID) {
			continue
		}
		for _, id := range m {
			if id != userID && !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *db.Message, recipients []int64) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	msg.ID = s.nextMsg
	msg.CreatedAt = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	stored := *msg
	s.messages = append(s.messages, &stored)

	counts := make(map[int64]int, len(recipients))
	for _, id := range recipients {
		key := [2]int64{id, msg.ChatID}
		s.unread[key]++
		counts[id] = s.unread[key]
	}
	return counts, nil
}

func (s *fakeStore) UnreadMessages(_ context.Context, chatID, userID int64) ([]db.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	watermark := s.lastRead[[2]int64{userID, chatID}]
	var out []db.Message
	for _, m := range s.messages {
		if m.ChatID == chatID && m.SenderID != userID && m.ID > watermark {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkMessagesRead(_ context.Context, userID, chatID int64, ids []int64) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{userID, chatID}
	var newlyRead int64
	watermark := s.lastRead[key]
	for _, m := range s.messages {
		if m.ChatID == chatID && m.SenderID != userID && m.ID > s.lastRead[key] && slices.Contains(ids, m.ID) {
			m.IsRead = true
			newlyRead++
			watermark = max(watermark, m.ID)
		}
	}
	s.lastRead[key] = watermark
	s.unread[key] = max(0, s.unread[key]-int(newlyRead))
	return newlyRead, s.unread[key], nil
}

func (s *fakeStore) UnreadCount(_ context.Context, userID, chatID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[[2]int64{userID, chatID}], nil
}

func (s *fakeStore) chatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

func (s *fakeStore) message(id int64) db.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return *m
		}
	}
	return db.Message{}
}

// onlineSet is a trivial OnlineChecker.
type onlineSet map[int64]bool

func (o onlineSet) IsOnline(_ context.Context, id int64) (bool, error) {
	return o[id], nil
}
