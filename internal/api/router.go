package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/auth"
	"github.com/palaver-chat/palaver/internal/metrics"
	"github.com/palaver-chat/palaver/internal/presence"
	"github.com/palaver-chat/palaver/internal/repositories"
	"github.com/palaver-chat/palaver/internal/signalqueue"
	"github.com/palaver-chat/palaver/internal/websocket"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized.
type RouterConfig struct {
	Verifier auth.Verifier
	Server   *websocket.Server
	Events   ChatEvents
	Queue    signalqueue.Queue
	Presence presence.Set
	Users    repositories.UserRepository
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// Checks are run by /readyz, keyed by service name.
	Checks map[string]Check

	// CookieName is the cookie holding the access token. Empty selects
	// DefaultAuthCookie.
	CookieName string
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultAuthCookie
	}

	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	healthHandler := NewHealthHandler(cfg.Checks, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Server, cfg.Verifier, cfg.CookieName, cfg.Logger)
	userHandler := NewUserHandler(cfg.Users, cfg.Presence, cfg.Logger)
	chatHandler := NewChatHandler(cfg.Events, cfg.Queue, cfg.Metrics, cfg.Logger)

	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", cfg.Metrics.Handler())

	// The upgrade authenticates on its own so that it can answer before the
	// handshake.
	r.Get("/ws", wsHandler.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier, cfg.CookieName))

		r.Get("/users/me", userHandler.GetMe)
		r.Get("/users/{id}/online", userHandler.Online)

		r.Post("/chats", chatHandler.Create)
		r.Post("/chats/{id}/messages", chatHandler.CreateMessage)
	})

	return r
}
