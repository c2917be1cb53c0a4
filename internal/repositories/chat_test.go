package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/palaver-chat/palaver/internal/db"
)

type fixture struct {
	users UserRepository
	chats ChatRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.New(db.Config{
		Driver:   db.DriverSQLite,
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })

	return &fixture{
		users: NewUserRepository(database),
		chats: NewChatRepository(database),
	}
}

func (f *fixture) user(t *testing.T, name string) int64 {
	t.Helper()
	u := &db.User{Email: fmt.Sprintf("%s@example.com", name), DisplayName: name}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

func TestUserRepository_CreateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "alice")
	err := f.users.Create(ctx, &db.User{Email: "alice@example.com", DisplayName: "again"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.users.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository_CreateFillsBaseFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := &db.User{Email: "alice@example.com", DisplayName: "Alice"}
	require.NoError(t, f.users.Create(ctx, u))
	assert.NotZero(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())
	assert.False(t, u.UpdatedAt.IsZero())

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.False(t, got.CreatedAt.IsZero())

	b := f.user(t, "bob")
	chat, err := f.chats.CreateChat(ctx, []int64{u.ID, b}, "", false)
	require.NoError(t, err)
	assert.NotZero(t, chat.ID)
	assert.False(t, chat.CreatedAt.IsZero())

	msg := &db.Message{ChatID: chat.ID, SenderID: u.ID, Text: "hi"}
	_, err = f.chats.CreateMessage(ctx, msg, []int64{b})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestUserRepository_Exists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")

	ok, err := f.users.Exists(ctx, a, b, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.users.Exists(ctx, a, 999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatRepository_CreateChatAndAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")

	chat, err := f.chats.CreateChat(ctx, []int64{a, b, b}, "", false)
	require.NoError(t, err)
	assert.NotZero(t, chat.ID)

	members, err := f.chats.ChatMembers(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, members)

	got, err := f.chats.ChatAccess(ctx, a, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)

	_, err = f.chats.ChatAccess(ctx, c, chat.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.chats.ChatAccess(ctx, a, chat.ID+100)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	n, err := f.chats.UnreadCount(ctx, b, chat.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChatRepository_CreateChatUnknownMember(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice")

	_, err := f.chats.CreateChat(context.Background(), []int64{a, 42}, "", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChatRepository_PrivateChatExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")

	_, err := f.chats.CreateChat(ctx, []int64{a, b, c}, "trio", true)
	require.NoError(t, err)

	exists, err := f.chats.PrivateChatExists(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, exists, "group chats do not count")

	_, err = f.chats.CreateChat(ctx, []int64{a, b}, "", false)
	require.NoError(t, err)

	exists, err = f.chats.PrivateChatExists(ctx, b, a)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.chats.PrivateChatExists(ctx, a, c)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChatRepository_Interlocutors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")
	d := f.user(t, "dave")

	_, err := f.chats.CreateChat(ctx, []int64{a, b}, "", false)
	require.NoError(t, err)
	_, err = f.chats.CreateChat(ctx, []int64{a, b, c}, "group", true)
	require.NoError(t, err)

	ids, err := f.chats.Interlocutors(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int64{b, c}, ids)

	ids, err = f.chats.Interlocutors(ctx, d)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestChatRepository_MessagesAndUnreadCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")

	chat, err := f.chats.CreateChat(ctx, []int64{a, b}, "", false)
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 3; i++ {
		msg := &db.Message{ChatID: chat.ID, SenderID: a, Text: fmt.Sprintf("m%d", i)}
		counts, err := f.chats.CreateMessage(ctx, msg, []int64{b})
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{b: i + 1}, counts)
		ids = append(ids, msg.ID)
	}

	unread, err := f.chats.UnreadMessages(ctx, chat.ID, b)
	require.NoError(t, err)
	require.Len(t, unread, 3)
	assert.Equal(t, ids[0], unread[0].ID)

	// The sender has nothing unread in the chat.
	unread, err = f.chats.UnreadMessages(ctx, chat.ID, a)
	require.NoError(t, err)
	assert.Empty(t, unread)

	flipped, count, err := f.chats.MarkMessagesRead(ctx, b, chat.ID, ids[:2])
	require.NoError(t, err)
	assert.EqualValues(t, 2, flipped)
	assert.Equal(t, 1, count)

	// Marking the same messages again changes nothing.
	flipped, count, err = f.chats.MarkMessagesRead(ctx, b, chat.ID, ids[:2])
	require.NoError(t, err)
	assert.Zero(t, flipped)
	assert.Equal(t, 1, count)

	// A sender cannot mark its own messages read.
	flipped, _, err = f.chats.MarkMessagesRead(ctx, a, chat.ID, ids)
	require.NoError(t, err)
	assert.Zero(t, flipped)
}

func TestChatRepository_DuplicatePrivateChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")

	_, err := f.chats.CreateChat(ctx, []int64{a, b}, "", false)
	require.NoError(t, err)

	_, err = f.chats.CreateChat(ctx, []int64{b, a}, "", false)
	assert.ErrorIs(t, err, ErrConflict)

	// Groups with the same members are not private chats.
	_, err = f.chats.CreateChat(ctx, []int64{a, b}, "pair", true)
	assert.NoError(t, err)
	_, err = f.chats.CreateChat(ctx, []int64{a, b}, "pair again", true)
	assert.NoError(t, err)
}

func TestChatRepository_ConcurrentPrivateChatCreatesOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")

	const attempts = 4
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.chats.CreateChat(ctx, []int64{a, b}, "", false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, conflicts)

	ids, err := f.chats.Interlocutors(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids)
}

func TestChatRepository_GroupReadIsPerMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")

	chat, err := f.chats.CreateChat(ctx, []int64{a, b, c}, "trio", true)
	require.NoError(t, err)

	msg := &db.Message{ChatID: chat.ID, SenderID: a, Text: "hi"}
	counts, err := f.chats.CreateMessage(ctx, msg, []int64{b, c})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{b: 1, c: 1}, counts)

	newlyRead, count, err := f.chats.MarkMessagesRead(ctx, b, chat.ID, []int64{msg.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, newlyRead)
	assert.Zero(t, count)

	// Bob's read leaves Carol's state untouched.
	unread, err := f.chats.UnreadMessages(ctx, chat.ID, c)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, msg.ID, unread[0].ID)
	assert.True(t, unread[0].IsRead, "flag records that some recipient read it")

	n, err := f.chats.UnreadCount(ctx, c, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	newlyRead, count, err = f.chats.MarkMessagesRead(ctx, c, chat.ID, []int64{msg.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, newlyRead)
	assert.Zero(t, count)

	unread, err = f.chats.UnreadMessages(ctx, chat.ID, c)
	require.NoError(t, err)
	assert.Empty(t, unread)

	// Older messages stay read once the watermark has passed them.
	later := &db.Message{ChatID: chat.ID, SenderID: b, Text: "hey"}
	_, err = f.chats.CreateMessage(ctx, later, []int64{a, c})
	require.NoError(t, err)

	unread, err = f.chats.UnreadMessages(ctx, chat.ID, c)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, later.ID, unread[0].ID)

	newlyRead, count, err = f.chats.MarkMessagesRead(ctx, c, chat.ID, []int64{msg.ID})
	require.NoError(t, err)
	assert.Zero(t, newlyRead)
	assert.Equal(t, 1, count)
}
