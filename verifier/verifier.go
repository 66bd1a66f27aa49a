package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/services"
)

// DefaultAlgorithms are the signing algorithms accepted when none are configured
var DefaultAlgorithms = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// KeySource resolves a signing key by key id
type KeySource interface {
	Get(ctx context.Context, kid string) (jose.JSONWebKey, error)
}

// Config holds configuration for TokenVerifier
type Config struct {
	ProjectID    string
	IssuerPrefix string
	ClockSkew    time.Duration
	Algorithms   []string
	Now          func() time.Time
}

// TokenVerifier checks signature, issuer, audience, expiry and issued-at of
// signed tokens against keys from a KeySource
type TokenVerifier struct {
	keys      KeySource
	projectID string
	issuer    string
	skew      time.Duration
	now       func() time.Time
	parser    *jwt.Parser
}

// NewTokenVerifier creates a new verifier. The project id is mandatory.
func NewTokenVerifier(keys KeySource, cfg Config) (*TokenVerifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "project id is required for token verification", nil)
	}
	if keys == nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "key source is required for token verification", nil)
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = DefaultAlgorithms
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}

	v := &TokenVerifier{
		keys:      keys,
		projectID: cfg.ProjectID,
		issuer:    cfg.IssuerPrefix + cfg.ProjectID,
		skew:      cfg.ClockSkew,
		now:       cfg.Now,
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.projectID),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	return v, nil
}

// Issuer returns the expected issuer claim
func (v *TokenVerifier) Issuer() string {
	return v.issuer
}

// Verify validates the token and returns its normalized identity payload.
// Every rejection is reported as Unauthenticated; an unreachable key set
// is reported as UpstreamUnavailable.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (models.IdentityPayload, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.keyFor(ctx, token)
	})
	if err != nil {
		if errors.Is(err, services.ErrUpstreamUnavailable) {
			return nil, services.UpstreamUnavailable("signing keys unavailable", err)
		}
		return nil, services.Unauthenticated("token verification failed", err)
	}
	if !token.Valid {
		return nil, services.Unauthenticated("token verification failed", nil)
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return nil, services.Unauthenticated("token has no subject", err)
	}

	return NormalizeClaims(claims), nil
}

func (v *TokenVerifier) keyFor(ctx context.Context, token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("kid header not found")
	}

	key, err := v.keys.Get(ctx, kid)
	if err != nil {
		return nil, err
	}

	if key.Algorithm != "" && key.Algorithm != token.Method.Alg() {
		return nil, fmt.Errorf("key %q is for %s, token uses %s", kid, key.Algorithm, token.Method.Alg())
	}

	return key.Key, nil
}
