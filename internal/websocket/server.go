// Package websocket implements the real-time messaging server: it accepts
// authorized websocket connections, keeps the per-user connection registry
// and the shared presence set in step, dispatches inbound frames to the event
// handlers, and drains the signal queue into the same delivery path.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/events"
	"github.com/palaver-chat/palaver/internal/metrics"
	"github.com/palaver-chat/palaver/internal/presence"
	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/repositories"
	"github.com/palaver-chat/palaver/internal/signalqueue"
)

const (
	// transitionStripes is the number of locks serialising presence
	// transitions. Users are mapped onto them by id.
	transitionStripes = 256

	defaultFrameTimeout = 10 * time.Second
	defaultHookTimeout  = 10 * time.Second
	defaultPollTimeout  = 1 * time.Second

	minDrainBackoff = 250 * time.Millisecond
	maxDrainBackoff = 5 * time.Second
)

// ErrServerClosed is returned by Serve once Shutdown has been called.
var ErrServerClosed = errors.New("websocket: server closed")

// EventHandler computes the outbound messages caused by inbound frames and
// presence transitions. *events.Handlers implements it.
type EventHandler interface {
	Handle(ctx context.Context, userID int64, frame protocol.Frame) ([]protocol.Outbound, error)
	Connected(ctx context.Context, userID int64) ([]protocol.Outbound, error)
	Disconnected(ctx context.Context, userID int64) ([]protocol.Outbound, error)
}

// Config tunes the server. Zero values select the defaults.
type Config struct {
	// SendBufferSize is the outbound buffer of each connection.
	SendBufferSize int
	// FrameTimeout bounds the handling of one inbound frame.
	FrameTimeout time.Duration
	// PollTimeout is how long one blocking pop on the signal queue waits.
	PollTimeout time.Duration
}

// Server owns the registry and the drain loop.
type Server struct {
	cfg      Config
	registry *Registry
	handlers EventHandler
	presence presence.Set
	queue    signalqueue.Queue
	metrics  *metrics.Metrics
	logger   *zap.Logger

	transitions [transitionStripes]sync.Mutex

	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup

	stopDrain context.CancelFunc
	drainDone chan struct{}
}

// NewServer wires a Server. The registry must be the one the handlers use to
// answer presence queries.
func NewServer(
	cfg Config,
	registry *Registry,
	handlers EventHandler,
	presenceSet presence.Set,
	queue signalqueue.Queue,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultSendBufferSize
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = defaultFrameTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		handlers: handlers,
		presence: presenceSet,
		queue:    queue,
		metrics:  m,
		logger:   logger.Named("ws_server"),
	}
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start clears stale presence left by a previous process, then launches the
// drain loop in its own goroutine. The loop runs until ctx is cancelled or
// Shutdown is called. Start must be called once, before connections are
// served.
func (s *Server) Start(ctx context.Context) error {
	if err := s.presence.Clear(ctx); err != nil {
		return fmt.Errorf("websocket: clear presence: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stopDrain = cancel
	s.drainDone = make(chan struct{})

	go func() {
		defer close(s.drainDone)
		s.logger.Info("signal queue drain loop started")
		s.drain(ctx)
		s.logger.Info("signal queue drain loop stopped")
	}()
	return nil
}

// Serve upgrades an already authenticated request and runs the connection
// until the transport closes. It blocks for the lifetime of the connection.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, userID int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrServerClosed
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		return fmt.Errorf("websocket: upgrade: %w", err)
	}

	c := newClient(conn, userID, s.cfg.SendBufferSize, s.logger)
	ctx := context.WithoutCancel(r.Context())

	s.connect(ctx, c)
	c.logger.Info("ws: client connected", zap.String("remote_addr", r.RemoteAddr))

	// Shutdown may have run CloseAll between the check above and connect.
	s.mu.Lock()
	if s.closed {
		c.Close()
	}
	s.mu.Unlock()

	go c.writePump()
	c.readLoop(func(raw []byte) { s.handleFrame(ctx, c, raw) })

	c.Close()
	s.disconnect(ctx, c)
	c.logger.Info("ws: client disconnected")
	return nil
}

// Shutdown stops accepting connections and stops the drain loop, then closes
// the live connections and waits for their read loops to deregister them, or
// for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.stopDrain != nil {
		s.stopDrain()
	}
	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		if s.drainDone != nil {
			<-s.drainDone
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Presence transitions
// -----------------------------------------------------------------------------

func (s *Server) transitionLock(userID int64) *sync.Mutex {
	i := userID % transitionStripes
	if i < 0 {
		i = -i
	}
	return &s.transitions[i]
}

// connect registers c. On the user's first connection it marks the user
// online and broadcasts the transition. The lock keeps registry, presence set
// and broadcasts of one user in the same order.
func (s *Server) connect(ctx context.Context, c *Client) {
	lock := s.transitionLock(c.userID)
	lock.Lock()
	defer lock.Unlock()

	s.metrics.Connections.Inc()
	if !s.registry.Add(c) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultHookTimeout)
	defer cancel()

	if err := s.presence.Add(ctx, c.userID); err != nil {
		c.logger.Error("presence: add failed", zap.Error(err))
	}
	out, err := s.handlers.Connected(ctx, c.userID)
	if err != nil {
		c.logger.Error("connect hook failed", zap.Error(err))
	}
	s.deliver(out)
}

// disconnect deregisters c. On the user's last connection it marks the user
// offline and broadcasts the transition.
func (s *Server) disconnect(ctx context.Context, c *Client) {
	lock := s.transitionLock(c.userID)
	lock.Lock()
	defer lock.Unlock()

	s.metrics.Disconnects.Inc()
	if !s.registry.Remove(c) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultHookTimeout)
	defer cancel()

	if err := s.presence.Remove(ctx, c.userID); err != nil {
		c.logger.Error("presence: remove failed", zap.Error(err))
	}
	out, err := s.handlers.Disconnected(ctx, c.userID)
	if err != nil {
		c.logger.Error("disconnect hook failed", zap.Error(err))
	}
	s.deliver(out)
}

// -----------------------------------------------------------------------------
// Frames
// -----------------------------------------------------------------------------

// handleFrame processes one inbound frame. Nothing that happens here closes
// the connection.
func (s *Server) handleFrame(ctx context.Context, c *Client, raw []byte) {
	label := "invalid"
	defer func() {
		if p := recover(); p != nil {
			s.metrics.FramesIn.WithLabelValues(label, metrics.FrameFailed).Inc()
			c.logger.Error("ws: panic while handling frame",
				zap.String("event_type", label),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
		}
	}()

	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		s.metrics.FramesIn.WithLabelValues(label, metrics.FrameRejected).Inc()
		c.logger.Warn("ws: malformed frame", zap.Error(err))
		return
	}
	label = frameLabel(frame.Type)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FrameTimeout)
	defer cancel()

	out, err := s.handlers.Handle(ctx, c.userID, frame)
	if err != nil {
		s.logFrameError(c, frame.Type, label, err)
		return
	}
	s.metrics.FramesIn.WithLabelValues(label, metrics.FrameOK).Inc()
	s.deliver(out)
}

func (s *Server) logFrameError(c *Client, typ protocol.Type, label string, err error) {
	fields := []zap.Field{zap.String("event_type", string(typ)), zap.Error(err)}

	switch {
	case errors.Is(err, events.ErrUnknownEvent), errors.Is(err, events.ErrValidation):
		s.metrics.FramesIn.WithLabelValues(label, metrics.FrameRejected).Inc()
		c.logger.Warn("ws: frame rejected", fields...)
	case errors.Is(err, repositories.ErrPermissionDenied),
		errors.Is(err, repositories.ErrNotFound),
		errors.Is(err, events.ErrDuplicateChat):
		s.metrics.FramesIn.WithLabelValues(label, metrics.FrameRejected).Inc()
		c.logger.Info("ws: frame refused", fields...)
	default:
		s.metrics.FramesIn.WithLabelValues(label, metrics.FrameFailed).Inc()
		c.logger.Error("ws: frame failed", fields...)
	}
}

// frameLabel bounds the metric label set to the known event types.
func frameLabel(t protocol.Type) string {
	switch t {
	case protocol.TypeOnlineStatusTracingAdding,
		protocol.TypeNewChat,
		protocol.TypeNewChatMessage,
		protocol.TypeNewChatMessageTyping,
		protocol.TypeChatMessageWasRead,
		protocol.TypeMessageWasRead:
		return string(t)
	}
	return "unknown"
}

func (s *Server) deliver(out []protocol.Outbound) {
	for _, o := range out {
		s.registry.SendToMany(o.UserIDs, o.Message)
	}
}

// -----------------------------------------------------------------------------
// Signal queue
// -----------------------------------------------------------------------------

// drain pops the signal queue and fans every message out through the
// registry. Empty polls retry at once since PopWait already blocks; store
// failures back off exponentially. Users without a connection are skipped.
func (s *Server) drain(ctx context.Context) {
	backoff := time.Duration(0)

	for ctx.Err() == nil {
		msg, err := s.queue.PopWait(ctx, s.cfg.PollTimeout)
		switch {
		case err == nil:
			backoff = 0
			s.metrics.QueueDrained.Inc()
			s.registry.SendToMany(msg.UserIDs, msg.Message)

		case errors.Is(err, signalqueue.ErrEmpty):
			backoff = 0

		case errors.Is(err, signalqueue.ErrMalformed):
			s.metrics.QueueErrors.Inc()
			s.logger.Warn("signal queue: discarding malformed message", zap.Error(err))

		case ctx.Err() != nil:
			return

		default:
			s.metrics.QueueErrors.Inc()
			backoff = nextBackoff(backoff)
			s.logger.Error("signal queue: pop failed",
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d < minDrainBackoff {
		return minDrainBackoff
	}
	d *= 2
	if d > maxDrainBackoff {
		return maxDrainBackoff
	}
	return d
}
