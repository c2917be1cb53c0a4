package api

import (
	"context"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/events"
	"github.com/palaver-chat/palaver/internal/metrics"
	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/signalqueue"
)

// ChatEvents is the subset of the event handlers the REST producer uses.
// *events.Handlers implements it.
type ChatEvents interface {
	NewChat(ctx context.Context, userID int64, req events.NewChatRequest) ([]protocol.Outbound, error)
	NewChatMessage(ctx context.Context, userID int64, req events.NewChatMessageRequest) ([]protocol.Outbound, error)
}

// ChatHandler creates chats and messages over HTTP. The resulting websocket
// frames are published on the signal queue and delivered by whichever server
// process holds the recipients' connections.
type ChatHandler struct {
	events  ChatEvents
	queue   signalqueue.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(ev ChatEvents, queue signalqueue.Queue, m *metrics.Metrics, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		events:  ev,
		queue:   queue,
		metrics: m,
		logger:  logger.Named("chat_handler"),
	}
}

// createMessageRequest is the body of POST /api/v1/chats/{id}/messages.
type createMessageRequest struct {
	Text      string `json:"text"`
	StorageID string `json:"storageId"`
}

// Create handles POST /api/v1/chats.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req events.NewChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := userIDFromCtx(r.Context())
	out, err := h.events.NewChat(r.Context(), userID, req)
	if err != nil {
		writeDomainError(w, h.logger, "create chat", err)
		return
	}

	h.publish(r.Context(), out)
	Created(w, payloadFor(out, protocol.TypeNewChat, userID))
}

// CreateMessage handles POST /api/v1/chats/{id}/messages.
func (h *ChatHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var body createMessageRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	userID := userIDFromCtx(r.Context())
	out, err := h.events.NewChatMessage(r.Context(), userID, events.NewChatMessageRequest{
		ChatID:    chatID,
		Text:      body.Text,
		StorageID: body.StorageID,
	})
	if err != nil {
		writeDomainError(w, h.logger, "create message", err)
		return
	}

	h.publish(r.Context(), out)
	Created(w, payloadFor(out, protocol.TypeNewChatMessage, userID))
}

// publish pushes every outbound message onto the signal queue. The data is
// already stored at this point, so a failed push is logged and the request
// still succeeds; recipients see the change on their next fetch.
func (h *ChatHandler) publish(ctx context.Context, out []protocol.Outbound) {
	for _, msg := range signalqueue.FromOutbound(out) {
		if err := h.queue.Push(ctx, msg); err != nil {
			h.metrics.QueueErrors.Inc()
			h.logger.Error("signal queue: push failed",
				zap.String("event_type", string(msg.Message.Type)),
				zap.Int("recipients", len(msg.UserIDs)),
				zap.Error(err),
			)
			continue
		}
		h.metrics.QueuePushed.Inc()
	}
}

// payloadFor returns the data of the first message of type t addressed to
// userID.
func payloadFor(out []protocol.Outbound, t protocol.Type, userID int64) any {
	for _, o := range out {
		if o.Message.Type == t && slices.Contains(o.UserIDs, userID) {
			return o.Message.Data
		}
	}
	return nil
}
