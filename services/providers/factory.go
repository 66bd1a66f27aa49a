package providers

import (
	"fmt"
	"net/http"

	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/services"
	"github.com/upb/auth-bridge/services/authapi"
	"github.com/upb/auth-bridge/utils"
	"github.com/upb/auth-bridge/verifier"
	"go.uber.org/zap"
)

// Options carries the optional collaborators of the provider factory
type Options struct {
	HTTPClient      *http.Client
	UpstreamMetrics authapi.UpstreamRecorder
	KeySetMetrics   verifier.RefreshRecorder
}

// New builds the configured provider. Missing provider settings are
// returned as errors here so they abort startup instead of failing requests.
func New(cfg config.AuthBridgeConfig, opts Options, logger *zap.Logger) (AuthProvider, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = utils.NewHTTPClient(cfg.HTTP.Timeout, cfg.HTTP.ConnectTimeout)
	}

	switch config.NormalizeProvider(cfg.Provider) {
	case config.ProviderRemote:
		if cfg.BaseURL == "" {
			return nil, configError("AUTH_BRIDGE_BASE_URL is required when using the remote provider")
		}
		client := authapi.NewClient(authapi.Config{
			BaseURL:      cfg.BaseURL,
			UserEndpoint: cfg.UserEndpoint,
			HTTPClient:   httpClient,
			Metrics:      opts.UpstreamMetrics,
		}, logger)
		logger.Info("auth provider configured",
			zap.String("provider", config.ProviderRemote),
			zap.String("base_url", cfg.BaseURL))
		return NewRemoteProvider(client), nil

	case config.ProviderLocalVerification:
		if cfg.Local.ProjectID == "" {
			return nil, configError("FIREBASE_PROJECT_ID is required when using the local-verification provider")
		}
		if cfg.Local.JWKSURL == "" {
			return nil, configError("AUTH_BRIDGE_JWKS_URL is required when using the local-verification provider")
		}
		keys := verifier.NewKeySetCache(verifier.KeySetConfig{
			JWKSURL:    cfg.Local.JWKSURL,
			CacheTTL:   cfg.Local.JWKSCacheTTL,
			HTTPClient: httpClient,
			Metrics:    opts.KeySetMetrics,
		}, logger)
		tokenVerifier, err := verifier.NewTokenVerifier(keys, verifier.Config{
			ProjectID:    cfg.Local.ProjectID,
			IssuerPrefix: cfg.Local.IssuerPrefix,
			ClockSkew:    cfg.Local.ClockSkew,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("auth provider configured",
			zap.String("provider", config.ProviderLocalVerification),
			zap.String("issuer", tokenVerifier.Issuer()))
		return NewLocalProvider(tokenVerifier, cfg.Local.ProjectID), nil

	default:
		return nil, configError(fmt.Sprintf("unsupported auth provider %q", cfg.Provider))
	}
}

func configError(message string) error {
	return services.NewDomainError(services.ErrorTypeValidation, message, nil)
}
