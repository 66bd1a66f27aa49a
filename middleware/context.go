package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/auth-bridge/guard"
	"github.com/upb/auth-bridge/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// GuardKey is the context key for the per-request guard
	GuardKey contextKey = "auth_guard"

	// UserKey is the context key for the synchronized local user
	UserKey contextKey = "auth_user"

	// PayloadKey is the context key for the identity payload
	PayloadKey contextKey = "auth_payload"
)

// GetRequestIDFromContext retrieves the request ID from context, falling
// back to the id assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetGuardFromContext retrieves the request guard stored by RequireAuth
func GetGuardFromContext(ctx context.Context) *guard.RequestGuard {
	if val := ctx.Value(GuardKey); val != nil {
		if rg, ok := val.(*guard.RequestGuard); ok {
			return rg
		}
	}
	return nil
}

// WithGuard adds the request guard to the context
func WithGuard(ctx context.Context, rg *guard.RequestGuard) context.Context {
	return context.WithValue(ctx, GuardKey, rg)
}

// GetUserFromContext retrieves the authenticated local user from context
func GetUserFromContext(ctx context.Context) *models.LocalUser {
	if val := ctx.Value(UserKey); val != nil {
		if user, ok := val.(*models.LocalUser); ok {
			return user
		}
	}
	return nil
}

// WithUser adds the authenticated local user to the context
func WithUser(ctx context.Context, user *models.LocalUser) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetPayloadFromContext retrieves the identity payload from context
func GetPayloadFromContext(ctx context.Context) models.IdentityPayload {
	if val := ctx.Value(PayloadKey); val != nil {
		if payload, ok := val.(models.IdentityPayload); ok {
			return payload
		}
	}
	return nil
}

// WithPayload adds the identity payload to the context
func WithPayload(ctx context.Context, payload models.IdentityPayload) context.Context {
	return context.WithValue(ctx, PayloadKey, payload)
}
