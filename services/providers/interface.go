package providers

import (
	"context"

	"github.com/upb/auth-bridge/models"
)

// AuthProvider resolves a credential into an identity payload.
// Exactly two implementations exist and one is selected at startup.
type AuthProvider interface {
	// Name returns the canonical provider identifier
	Name() string

	// Authenticate returns the identity behind token. Rejections are
	// services.ErrUnauthenticated, unreachable dependencies
	// services.ErrUpstreamUnavailable.
	Authenticate(ctx context.Context, token string, authCtx models.AuthContext) (models.IdentityPayload, error)

	// CacheKeyPrefix separates cache entries of different providers
	CacheKeyPrefix() string
}
