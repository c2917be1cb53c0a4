package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/db"
	"github.com/palaver-chat/palaver/internal/presence"
	"github.com/palaver-chat/palaver/internal/repositories"
)

// UserHandler serves the user profile and presence lookups.
type UserHandler struct {
	repo     repositories.UserRepository
	presence presence.Set
	logger   *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(repo repositories.UserRepository, set presence.Set, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		repo:     repo,
		presence: set,
		logger:   logger.Named("user_handler"),
	}
}

// userResponse is the JSON representation of a user.
type userResponse struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func userToResponse(u *db.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

// onlineResponse is the body of GET /api/v1/users/{id}/online.
type onlineResponse struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
}

// GetMe handles GET /api/v1/users/me.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.repo.GetByID(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		writeDomainError(w, h.logger, "get current user", err)
		return
	}
	Ok(w, userToResponse(user))
}

// Online handles GET /api/v1/users/{id}/online. It reads the shared presence
// set, so it answers correctly from any process.
func (h *UserHandler) Online(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	online, err := h.presence.Contains(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to read presence", zap.Int64("user_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, onlineResponse{UserID: id, Online: online})
}

// pathID parses a positive integer URL parameter. It writes a 400 and
// returns false when the parameter is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		ErrBadRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}
