// Package events implements the domain reaction to every inbound chat event.
//
// A handler validates its input, applies mutations through the repositories
// and returns the outbound messages the event produces together with their
// recipients. Handlers never deliver anything themselves: the websocket
// server sends the result to live connections, the HTTP API pushes it onto
// the signal queue.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/db"
	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/repositories"
)

// maxChatNameLength caps the stored chat name, in characters.
const maxChatNameLength = 100

// OnlineChecker answers whether a user currently has a live connection.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// OnlineFunc adapts a plain function to OnlineChecker.
type OnlineFunc func(ctx context.Context, userID int64) (bool, error)

// IsOnline calls f(ctx, userID).
func (f OnlineFunc) IsOnline(ctx context.Context, userID int64) (bool, error) {
	return f(ctx, userID)
}

type handlerFunc func(ctx context.Context, userID int64, data json.RawMessage) ([]protocol.Outbound, error)

// Handlers holds the event handler table and its collaborators.
type Handlers struct {
	users    repositories.UserRepository
	chats    repositories.ChatRepository
	online   OnlineChecker
	interest *InterestMap
	logger   *zap.Logger

	table map[protocol.Type]handlerFunc
}

// New builds the handler table. interest may be nil for processes that never
// serve onlineStatusTracingAdding (the HTTP producer); a private map is
// created in that case.
func New(
	users repositories.UserRepository,
	chats repositories.ChatRepository,
	online OnlineChecker,
	interest *InterestMap,
	logger *zap.Logger,
) *Handlers {
	if interest == nil {
		interest = NewInterestMap()
	}
	h := &Handlers{
		users:    users,
		chats:    chats,
		online:   online,
		interest: interest,
		logger:   logger.Named("events"),
	}
	h.table = map[protocol.Type]handlerFunc{
		protocol.TypeOnlineStatusTracingAdding: bind(h.TracePresence),
		protocol.TypeNewChat:                   bind(h.NewChat),
		protocol.TypeNewChatMessage:            bind(h.NewChatMessage),
		protocol.TypeNewChatMessageTyping:      bind(h.Typing),
		protocol.TypeChatMessageWasRead:        bind(h.MessageRead),
		protocol.TypeMessageWasRead:            bind(h.MessageRead),
	}
	return h
}

// Handle dispatches frame to the handler registered for its type.
func (h *Handlers) Handle(ctx context.Context, userID int64, frame protocol.Frame) ([]protocol.Outbound, error) {
	fn, ok := h.table[frame.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Type)
	}
	return fn(ctx, userID, frame.Data)
}

// bind decodes the raw frame data into the request type of fn.
func bind[T any](fn func(context.Context, int64, T) ([]protocol.Outbound, error)) handlerFunc {
	return func(ctx context.Context, userID int64, data json.RawMessage) ([]protocol.Outbound, error) {
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return nil, fmt.Errorf("%w: missing data", ErrValidation)
		}
		var req T
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return fn(ctx, userID, req)
	}
}

// -----------------------------------------------------------------------------
// onlineStatusTracingAdding
// -----------------------------------------------------------------------------

// TracePresence subscribes userID to the presence of req.UserID and answers
// with that user's current status.
func (h *Handlers) TracePresence(ctx context.Context, userID int64, req TracePresenceRequest) ([]protocol.Outbound, error) {
	if req.UserID == 0 {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	ok, err := h.users.Exists(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("user %d: %w", req.UserID, repositories.ErrNotFound)
	}

	h.interest.Add(req.UserID, userID)

	online, err := h.online.IsOnline(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return []protocol.Outbound{
		protocol.To(statusMessage(Statuses{req.UserID: online}), userID),
	}, nil
}

// -----------------------------------------------------------------------------
// newChat
// -----------------------------------------------------------------------------

// NewChat creates a chat between userID and req.UserIDs. Every participant
// receives the chat, and every online participant also receives the online
// status of its co-participants when at least one of them is online.
func (h *Handlers) NewChat(ctx context.Context, userID int64, req NewChatRequest) ([]protocol.Outbound, error) {
	members := make([]int64, 0, len(req.UserIDs)+1)
	seen := make(map[int64]struct{}, len(req.UserIDs)+1)
	requested := append(append([]int64(nil), req.UserIDs...), userID)
	for _, id := range requested {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid user id %d", ErrValidation, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	if !req.IsGroup && len(members) > 2 {
		return nil, fmt.Errorf("%w: a private chat has at most 2 participants", ErrValidation)
	}

	name := strings.TrimSpace(req.Name)
	if n := []rune(name); len(n) > maxChatNameLength {
		name = string(n[:maxChatNameLength])
	}

	if !req.IsGroup && len(members) == 2 {
		exists, err := h.chats.PrivateChatExists(ctx, members[0], members[1])
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateChat
		}
	}

	chat, err := h.chats.CreateChat(ctx, members, name, req.IsGroup)
	if err != nil {
		// Lost a race with another NewChat for the same pair.
		if errors.Is(err, repositories.ErrConflict) {
			return nil, ErrDuplicateChat
		}
		return nil, err
	}

	h.logger.Debug("chat created",
		zap.Int64("chat_id", chat.ID),
		zap.Int64("user_id", userID),
		zap.Int64s("members", members),
	)

	out := make([]protocol.Outbound, 0, len(members)*2)
	for _, id := range members {
		count, err := h.chats.UnreadCount(ctx, id, chat.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, protocol.To(protocol.Message{
			Type: protocol.TypeNewChat,
			Data: ChatPayload{
				ID:          chat.ID,
				Name:        chat.Name,
				IsGroup:     chat.IsGroup,
				UserIDs:     members,
				UnreadCount: count,
			},
		}, id))
	}

	online := make(map[int64]bool, len(members))
	for _, id := range members {
		ok, err := h.online.IsOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		online[id] = ok
	}
	for _, id := range members {
		if !online[id] {
			continue
		}
		peers := Statuses{}
		for _, peer := range members {
			if peer != id && online[peer] {
				peers[peer] = true
			}
		}
		if len(peers) > 0 {
			out = append(out, protocol.To(statusMessage(peers), id))
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// newChatMessage
// -----------------------------------------------------------------------------

// NewChatMessage stores a message sent by userID. Every member receives the
// message; every other member also receives its new unread counter.
func (h *Handlers) NewChatMessage(ctx context.Context, userID int64, req NewChatMessageRequest) ([]protocol.Outbound, error) {
	if req.ChatID == 0 {
		return nil, fmt.Errorf("%w: chatId is required", ErrValidation)
	}
	text := NormalizeText(req.Text)
	storageID := strings.TrimSpace(req.StorageID)
	if text == "" && storageID == "" {
		return nil, fmt.Errorf("%w: text or storageId is required", ErrValidation)
	}

	chat, err := h.chats.ChatAccess(ctx, userID, req.ChatID)
	if err != nil {
		return nil, err
	}
	members, err := h.chats.ChatMembers(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	others := without(members, userID)

	msg := &db.Message{
		ChatID:    chat.ID,
		SenderID:  userID,
		Text:      text,
		StorageID: storageID,
	}
	counts, err := h.chats.CreateMessage(ctx, msg, others)
	if err != nil {
		return nil, err
	}

	out := make([]protocol.Outbound, 0, len(others)+1)
	out = append(out, protocol.To(protocol.Message{
		Type: protocol.TypeNewChatMessage,
		Data: messagePayload(msg),
	}, members...))
	for _, id := range others {
		out = append(out, protocol.To(protocol.Message{
			Type: protocol.TypeNewUnreadCount,
			Data: UnreadCountPayload{ChatID: chat.ID, Count: counts[id]},
		}, id))
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// newChatMessageTyping
// -----------------------------------------------------------------------------

// Typing relays a typing notification to the other members of the chat.
func (h *Handlers) Typing(ctx context.Context, userID int64, req TypingRequest) ([]protocol.Outbound, error) {
	if req.ChatID == 0 {
		return nil, fmt.Errorf("%w: chatId is required", ErrValidation)
	}
	chat, err := h.chats.ChatAccess(ctx, userID, req.ChatID)
	if err != nil {
		return nil, err
	}
	members, err := h.chats.ChatMembers(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	others := without(members, userID)
	if len(others) == 0 {
		return nil, nil
	}
	return []protocol.Outbound{
		protocol.To(protocol.Message{
			Type: protocol.TypeNewChatMessageTyping,
			Data: TypingPayload{ChatID: chat.ID, UserID: userID},
		}, others...),
	}, nil
}

// -----------------------------------------------------------------------------
// chatMessageWasRead
// -----------------------------------------------------------------------------

// MessageRead marks every unread message of the chat up to and including
// req.MessageID as read by userID. A message id older than the oldest unread
// message was already read and produces nothing.
func (h *Handlers) MessageRead(ctx context.Context, userID int64, req MessageReadRequest) ([]protocol.Outbound, error) {
	if req.ChatID == 0 || req.MessageID == 0 {
		return nil, fmt.Errorf("%w: chatId and messageId are required", ErrValidation)
	}
	chat, err := h.chats.ChatAccess(ctx, userID, req.ChatID)
	if err != nil {
		return nil, err
	}

	unread, err := h.chats.UnreadMessages(ctx, chat.ID, userID)
	if err != nil {
		return nil, err
	}
	if len(unread) == 0 || req.MessageID < unread[0].ID {
		return nil, nil
	}

	var (
		ids     []int64
		senders []int64
		seen    = make(map[int64]struct{})
	)
	for _, m := range unread {
		if m.ID > req.MessageID {
			break
		}
		ids = append(ids, m.ID)
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senders = append(senders, m.SenderID)
		}
	}

	newlyRead, count, err := h.chats.MarkMessagesRead(ctx, userID, chat.ID, ids)
	if err != nil {
		return nil, err
	}
	if newlyRead == 0 {
		return nil, nil
	}

	out := make([]protocol.Outbound, 0, len(senders)+1)
	out = append(out, protocol.To(protocol.Message{
		Type: protocol.TypeNewUnreadCount,
		Data: UnreadCountPayload{ChatID: chat.ID, Count: count},
	}, userID))
	for _, sender := range senders {
		out = append(out, protocol.To(protocol.Message{
			Type: protocol.TypeReadChatMessages,
			Data: ReadMessagesPayload{ChatID: chat.ID, MessageIDs: ids},
		}, sender))
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Presence hooks
// -----------------------------------------------------------------------------

// Connected computes the messages caused by userID coming online: its
// interlocutors and every user tracing it learn it is online, and userID
// receives the status of its online interlocutors when there are any.
func (h *Handlers) Connected(ctx context.Context, userID int64) ([]protocol.Outbound, error) {
	interlocutors, err := h.chats.Interlocutors(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []protocol.Outbound
	if targets := union(interlocutors, h.interest.Watchers(userID)); len(targets) > 0 {
		out = append(out, protocol.To(statusMessage(Statuses{userID: true}), targets...))
	}

	peers := Statuses{}
	for _, id := range interlocutors {
		ok, err := h.online.IsOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			peers[id] = true
		}
	}
	if len(peers) > 0 {
		out = append(out, protocol.To(statusMessage(peers), userID))
	}
	return out, nil
}

// Disconnected computes the offline notification sent to userID's
// interlocutors. Users tracing userID through the interest map are not
// notified.
func (h *Handlers) Disconnected(ctx context.Context, userID int64) ([]protocol.Outbound, error) {
	interlocutors, err := h.chats.Interlocutors(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(interlocutors) == 0 {
		return nil, nil
	}
	return []protocol.Outbound{
		protocol.To(statusMessage(Statuses{userID: false}), interlocutors...),
	}, nil
}

func without(ids []int64, drop int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func union(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
