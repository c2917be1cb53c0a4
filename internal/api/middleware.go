package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/auth"
)

// DefaultAuthCookie is the cookie carrying the access token for browser
// clients.
const DefaultAuthCookie = "access_token"

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const (
	// contextKeyUserID holds the int64 id of the authenticated user.
	contextKeyUserID contextKey = iota
)

// bearerToken extracts the credential from the request. Sources, in order:
// the auth cookie, an "Authorization: Bearer" header, the "token" query
// parameter. Browsers cannot set headers on websocket upgrades, which is why
// the cookie and the query parameter are accepted.
func bearerToken(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}

	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return r.URL.Query().Get("token")
}

// Authenticate validates the request credential and stores the user id in
// the request context. On failure it writes a 401 and stops the chain.
func Authenticate(verifier auth.Verifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r, cookieName)
			if token == "" {
				ErrUnauthorized(w)
				return
			}

			userID, err := verifier.VerifyUserID(token)
			if err != nil {
				ErrUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. Chi's middleware.RequestID is expected to
// run before it.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// userIDFromCtx returns the id stored by Authenticate, or 0 when the request
// is unauthenticated.
func userIDFromCtx(ctx context.Context) int64 {
	id, _ := ctx.Value(contextKeyUserID).(int64)
	return id
}
