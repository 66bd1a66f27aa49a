package middleware

import (
	"net/http"
	"slices"

	"github.com/upb/auth-bridge/guard"
	"github.com/upb/auth-bridge/services"
	"github.com/upb/auth-bridge/utils"
	"go.uber.org/zap"
)

// unauthenticatedMessage is the only failure message clients ever see
const unauthenticatedMessage = "Unauthenticated"

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	guard  *guard.Guard
	logger *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(g *guard.Guard, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		guard:  g,
		logger: logger,
	}
}

// RequireAuth resolves the request identity through the guard. Every failure
// category collapses into the same 401 response.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		rg := m.guard.ForRequest(r)
		user, err := rg.User(ctx)
		if err != nil || user == nil {
			m.logger.Debug("request not authenticated",
				zap.String("request_id", requestID),
				zap.String("error_type", string(services.GetErrorType(err))))
			_ = utils.WriteUnauthorized(w, unauthenticatedMessage)
			return
		}

		ctx = WithGuard(ctx, rg)
		ctx = WithUser(ctx, user)
		ctx = WithPayload(ctx, rg.Payload())

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", user.IDString()))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole requires the identity payload to list role under "roles".
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.requireEntry("roles", role)
}

// RequirePermission requires the identity payload to list permission under
// "permissions". It must run after RequireAuth.
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return m.requireEntry("permissions", permission)
}

func (m *AuthMiddleware) requireEntry(path, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			if GetUserFromContext(ctx) == nil {
				m.logger.Error("user not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, unauthenticatedMessage)
				return
			}

			granted := GetPayloadFromContext(ctx).Names(path)
			if !slices.Contains(granted, name) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("required_"+path, name),
					zap.Strings("granted", granted))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
