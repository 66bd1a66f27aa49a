package providers

import (
	"context"

	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/models"
)

// IdentityFetcher is the part of the identity API client the remote provider needs
type IdentityFetcher interface {
	FetchUser(ctx context.Context, token string, headers models.AuthContext) (models.IdentityPayload, error)
}

// RemoteProvider asks the identity API who a token belongs to
type RemoteProvider struct {
	client IdentityFetcher
}

// NewRemoteProvider creates a new remote introspection provider
func NewRemoteProvider(client IdentityFetcher) *RemoteProvider {
	return &RemoteProvider{client: client}
}

// Name returns the provider identifier
func (p *RemoteProvider) Name() string {
	return config.ProviderRemote
}

// CacheKeyPrefix returns the cache namespace of this provider
func (p *RemoteProvider) CacheKeyPrefix() string {
	return "remote"
}

// Authenticate forwards the token and scoping headers to the identity API
func (p *RemoteProvider) Authenticate(ctx context.Context, token string, authCtx models.AuthContext) (models.IdentityPayload, error) {
	return p.client.FetchUser(ctx, token, authCtx)
}
