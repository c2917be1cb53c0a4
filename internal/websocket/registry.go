package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/metrics"
	"github.com/palaver-chat/palaver/internal/protocol"
)

// Registry maps each user id to its live connections. A user id is a key if
// and only if it has at least one connection: the entry is deleted, not left
// empty, when the last connection goes away.
//
// All methods are safe for concurrent use. Sends copy the target slice under
// the read lock and enqueue outside it, so a slow client never holds the
// registry.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64][]*Client

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		conns:   make(map[int64][]*Client),
		metrics: m,
		logger:  logger.Named("registry"),
	}
}

// Add appends c to its user's connections and reports whether it is the
// user's first one.
func (r *Registry) Add(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := len(r.conns[c.userID]) == 0
	r.conns[c.userID] = append(r.conns[c.userID], c)
	r.metrics.ConnectedClients.Inc()
	return first
}

// Remove drops c, matched by identity, and reports whether it was the user's
// last connection. Removing a connection that is not registered returns
// false.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.conns[c.userID]
	for i, existing := range list {
		if existing != c {
			continue
		}
		r.metrics.ConnectedClients.Dec()
		if len(list) == 1 {
			delete(r.conns, c.userID)
			return true
		}
		rest := make([]*Client, 0, len(list)-1)
		rest = append(rest, list[:i]...)
		rest = append(rest, list[i+1:]...)
		r.conns[c.userID] = rest
		return false
	}
	return false
}

// HasConnections reports whether userID has at least one live connection.
func (r *Registry) HasConnections(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// IsOnline lets the registry answer presence queries for the event handlers.
func (r *Registry) IsOnline(_ context.Context, userID int64) (bool, error) {
	return r.HasConnections(userID), nil
}

// SendToUser delivers msg to every connection of userID. Delivery is best
// effort: a user without connections is skipped, a failing connection does
// not affect the others.
func (r *Registry) SendToUser(userID int64, msg protocol.Message) {
	r.SendToMany([]int64{userID}, msg)
}

// SendToMany delivers msg once to every connection of every distinct user in
// userIDs. The message is encoded a single time.
func (r *Registry) SendToMany(userIDs []int64, msg protocol.Message) {
	targets := r.clientsOf(userIDs)
	if len(targets) == 0 {
		return
	}

	b, err := msg.Encode()
	if err != nil {
		r.logger.Error("dropping unencodable message",
			zap.String("event_type", string(msg.Type)),
			zap.Error(err),
		)
		return
	}

	for _, c := range targets {
		if c.enqueue(b) {
			r.metrics.MessagesOut.Inc()
			continue
		}
		if c.isClosed() {
			continue
		}
		// Buffer full: the client cannot keep up. Closing the transport makes
		// its read loop exit and deregister it.
		r.metrics.DroppedSlowClients.Inc()
		r.logger.Warn("closing slow client",
			zap.Int64("user_id", c.userID),
			zap.String("conn_id", c.id),
		)
		c.Close()
	}
}

func (r *Registry) clientsOf(userIDs []int64) []*Client {
	seen := make(map[int64]struct{}, len(userIDs))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Client
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r.conns[id]...)
	}
	return out
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.conns {
		n += len(list)
	}
	return n
}

// ConnectedUsers returns the ids of users with at least one connection, in no
// particular order.
func (r *Registry) ConnectedUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every registered connection. Entries are removed by the
// connections' own read loops as they exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*Client
	for _, list := range r.conns {
		all = append(all, list...)
	}
	r.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
}
