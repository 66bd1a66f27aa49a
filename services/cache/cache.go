package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/upb/auth-bridge/models"
	"go.uber.org/zap"
)

// KeyNamespace prefixes every cache key written by the bridge
const KeyNamespace = "auth-bridge"

// Store is the backing key-value store of AuthCache
type Store interface {
	// Get returns the value and whether it was present and unexpired
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key
	Delete(ctx context.Context, key string) error

	// Close releases the store's resources
	Close() error
}

// LookupRecorder receives the result of every Remember call: hit, miss or bypass
type LookupRecorder interface {
	RecordCacheLookup(result string)
}

// ComputeFunc produces the payload on a cache miss
type ComputeFunc func(ctx context.Context) (models.IdentityPayload, error)

// AuthCache memoizes provider results per token and scoping context
type AuthCache struct {
	store   Store
	metrics LookupRecorder
	logger  *zap.Logger
}

// New creates a new AuthCache on top of store
func New(store Store, metrics LookupRecorder, logger *zap.Logger) *AuthCache {
	return &AuthCache{
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Key derives the cache key for a token and its scoping headers. The token
// and the headers, sorted by name, are length-prefixed so no value can mimic
// a separator, then hashed so the token never appears in the key.
func Key(prefix, token string, headers models.AuthContext) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	writeField(&b, token)
	for _, name := range names {
		writeField(&b, name)
		writeField(&b, headers[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s:%s:%s", KeyNamespace, prefix, hex.EncodeToString(sum[:]))
}

func writeField(b *strings.Builder, value string) {
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
}

// Remember returns the cached payload for key or computes and stores it.
// ttl <= 0 bypasses the cache. Check and set are not atomic, so concurrent
// cold lookups of the same key may each call compute. Failures are not cached.
func (c *AuthCache) Remember(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (models.IdentityPayload, error) {
	if ttl <= 0 || c.store == nil {
		c.record("bypass")
		return compute(ctx)
	}

	if payload, ok := c.load(ctx, key); ok {
		c.record("hit")
		return payload, nil
	}
	c.record("miss")

	payload, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("auth cache encode failed", zap.Error(err))
		return payload, nil
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("auth cache write failed", zap.Error(err))
	}

	return payload, nil
}

// Forget removes key from the store
func (c *AuthCache) Forget(ctx context.Context, key string) error {
	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, key)
}

func (c *AuthCache) load(ctx context.Context, key string) (models.IdentityPayload, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("auth cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload models.IdentityPayload
	if err := dec.Decode(&payload); err != nil || payload == nil {
		c.logger.Warn("auth cache entry unreadable", zap.Error(err))
		return nil, false
	}
	return payload, true
}

func (c *AuthCache) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(result)
	}
}
