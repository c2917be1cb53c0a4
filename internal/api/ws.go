package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/auth"
	"github.com/palaver-chat/palaver/internal/websocket"
)

// WSHandler handles the websocket upgrade endpoint GET /ws.
//
// The credential is read from the upgrade request itself, so an unauthorized
// client is answered with a plain 401 and never reaches the connection
// registry.
//
// Example connection URL for clients that cannot send the cookie:
//
//	ws://host/ws?token=<jwt>
type WSHandler struct {
	server     *websocket.Server
	verifier   auth.Verifier
	cookieName string
	logger     *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(server *websocket.Server, verifier auth.Verifier, cookieName string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		server:     server,
		verifier:   verifier,
		cookieName: cookieName,
		logger:     logger.Named("ws_handler"),
	}
}

// ServeWS handles GET /ws. It blocks until the connection closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r, h.cookieName)
	if token == "" {
		h.logger.Info("ws: missing credential", zap.String("remote_addr", r.RemoteAddr))
		ErrUnauthorized(w)
		return
	}

	userID, err := h.verifier.VerifyUserID(token)
	if err != nil {
		h.logger.Info("ws: rejected credential",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Bool("expired", errors.Is(err, auth.ErrTokenExpired)),
		)
		ErrUnauthorized(w)
		return
	}

	if err := h.server.Serve(w, r, userID); err != nil && !errors.Is(err, websocket.ErrServerClosed) {
		h.logger.Warn("ws: upgrade failed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}
