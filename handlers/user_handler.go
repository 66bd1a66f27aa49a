package handlers

import (
	"net/http"

	"github.com/upb/auth-bridge/middleware"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/services"
	"github.com/upb/auth-bridge/utils"
	"go.uber.org/zap"
)

// CurrentUserResponse is the body of GET /api/user
type CurrentUserResponse struct {
	User     map[string]any         `json:"user"`
	Identity models.IdentityPayload `json:"identity"`
}

// UserHandler exposes the authenticated principal of a request
type UserHandler struct {
	hidden []string
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler. hidden columns are never returned.
func NewUserHandler(logger *zap.Logger, hidden ...string) *UserHandler {
	return &UserHandler{hidden: hidden, logger: logger}
}

// HandleCurrentUser handles GET /api/user
func (h *UserHandler) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUserFromContext(ctx)
	if user == nil {
		HandleServiceError(w, services.ErrNoCredential, h.logger)
		return
	}

	respondOK(w, CurrentUserResponse{
		User:     user.Public(h.hidden...),
		Identity: middleware.GetPayloadFromContext(ctx),
	}, h.logger)
}

// HandleLogout handles POST /api/logout
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rg := middleware.GetGuardFromContext(ctx)
	if rg == nil {
		HandleServiceError(w, services.ErrNoCredential, h.logger)
		return
	}

	rg.Logout(ctx)
	utils.WriteNoContent(w)
}
