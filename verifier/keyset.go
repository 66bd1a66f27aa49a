package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/upb/auth-bridge/services"
	"go.uber.org/zap"
)

// RefreshRecorder receives one observation per key set fetch
type RefreshRecorder interface {
	RecordKeySetRefresh(outcome string, duration time.Duration)
}

// KeySetConfig holds configuration for KeySetCache
type KeySetConfig struct {
	JWKSURL    string
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Metrics    RefreshRecorder
	Now        func() time.Time
}

// KeySetCache holds the public signing keys of a JWKS endpoint, indexed by key id.
// The whole set shares one expiry and is replaced wholesale on refresh.
type KeySetCache struct {
	jwksURL    string
	ttl        time.Duration
	httpClient *http.Client
	metrics    RefreshRecorder
	now        func() time.Time
	logger     *zap.Logger

	mu        sync.RWMutex
	keys      map[string]jose.JSONWebKey
	expiresAt time.Time
}

// NewKeySetCache creates a new key set cache
func NewKeySetCache(cfg KeySetConfig, logger *zap.Logger) *KeySetCache {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &KeySetCache{
		jwksURL:    cfg.JWKSURL,
		ttl:        cfg.CacheTTL,
		httpClient: cfg.HTTPClient,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		logger:     logger,
		keys:       make(map[string]jose.JSONWebKey),
	}
}

// Get returns the key for kid. A miss or an expired set triggers exactly one
// refresh; a kid still absent afterwards is an unknown signing key.
func (c *KeySetCache) Get(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return jose.JSONWebKey{}, err
	}

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	return jose.JSONWebKey{}, services.NewDomainError(
		services.ErrorTypeUnknownSigningKey,
		fmt.Sprintf("key %q not present after refresh", kid),
		nil,
	)
}

func (c *KeySetCache) lookup(kid string) (jose.JSONWebKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.now().Before(c.expiresAt) {
		return jose.JSONWebKey{}, false
	}
	key, ok := c.keys[kid]
	return key, ok
}

// Refresh fetches the key set and replaces the cached one.
// Concurrent refreshes are not coalesced; the last one to finish wins.
func (c *KeySetCache) Refresh(ctx context.Context) error {
	start := c.now()
	keys, err := c.fetch(ctx)
	if err != nil {
		c.record("error", start)
		c.logger.Warn("jwks refresh failed", zap.String("url", c.jwksURL), zap.Error(err))
		return services.UpstreamUnavailable("jwks fetch failed", err)
	}

	c.mu.Lock()
	c.keys = keys
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()

	c.record("success", start)
	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)))
	return nil
}

func (c *KeySetCache) fetch(ctx context.Context) (map[string]jose.JSONWebKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.KeyID == "" || !key.IsPublic() {
			continue
		}
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		keys[key.KeyID] = key
	}
	return keys, nil
}

func (c *KeySetCache) record(outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordKeySetRefresh(outcome, c.now().Sub(start))
	}
}

// Invalidate drops the cached key set so the next lookup refreshes
func (c *KeySetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = make(map[string]jose.JSONWebKey)
	c.expiresAt = time.Time{}
}

// Stats returns cache statistics
func (c *KeySetCache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"jwks_url":        c.jwksURL,
		"jwks_expires_at": c.expiresAt,
		"cached_keys":     len(c.keys),
	}
}
