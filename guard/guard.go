package guard

import (
	"context"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/services"
	"github.com/upb/auth-bridge/services/cache"
	"github.com/upb/auth-bridge/services/providers"
	"go.uber.org/zap"
)

// Config holds the guard settings
type Config struct {
	Name          string
	InputKey      string
	StorageKey    string
	AccountHeader string
	AppHeader     string
	CacheTTL      time.Duration
	MaxBodyBytes  int64
}

// ConfigFrom extracts the guard settings from the bridge configuration
func ConfigFrom(cfg config.AuthBridgeConfig) Config {
	return Config{
		Name:          cfg.Guard.Name,
		InputKey:      cfg.Guard.InputKey,
		StorageKey:    cfg.Guard.StorageKey,
		AccountHeader: cfg.Headers.Account,
		AppHeader:     cfg.Headers.App,
		CacheTTL:      cfg.Cache.TTL,
		MaxBodyBytes:  DefaultMaxBodyBytes,
	}
}

// Synchronizer turns an identity payload into the local principal
type Synchronizer interface {
	Sync(ctx context.Context, payload models.IdentityPayload, syncCtx models.SyncContext) (*models.LocalUser, error)
}

// Guard authenticates requests: token, cache, provider, then user sync.
// It is shared by all requests and holds no per-request state.
type Guard struct {
	cfg       Config
	tokens    TokenSource
	provider  providers.AuthProvider
	cache     *cache.AuthCache
	sync      Synchronizer
	observers []Observer
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a new Guard. cache may be nil to disable memoization.
func New(cfg Config, provider providers.AuthProvider, authCache *cache.AuthCache, syncer Synchronizer, logger *zap.Logger, observers ...Observer) *Guard {
	if cfg.Name == "" {
		cfg.Name = "auth-bridge"
	}
	return &Guard{
		cfg:       cfg,
		tokens:    TokenSource{InputKey: cfg.InputKey, CookieName: cfg.StorageKey},
		provider:  provider,
		cache:     authCache,
		sync:      syncer,
		observers: observers,
		logger:    logger,
		now:       time.Now,
	}
}

// Name returns the guard name carried by events
func (g *Guard) Name() string {
	return g.cfg.Name
}

// Subscribe adds an observer. It must be called before serving requests.
func (g *Guard) Subscribe(o Observer) {
	g.observers = append(g.observers, o)
}

// ForRequest returns the guard state of one request. Nothing is resolved
// until User, Check or Validate is called.
func (g *Guard) ForRequest(r *http.Request) *RequestGuard {
	return &RequestGuard{guard: g, request: r}
}

// RequestGuard is the authentication state of a single request
type RequestGuard struct {
	guard   *Guard
	request *http.Request

	mu        sync.Mutex
	resolved  bool
	loggedOut bool
	user      *models.LocalUser
	payload   models.IdentityPayload
	authCtx   models.AuthContext
	err       error
}

// User resolves the authenticated local user. The outcome is memoized for the
// request. Errors carry the internal failure category for logging; callers
// must only expose an unauthenticated outcome.
func (rg *RequestGuard) User(ctx context.Context) (*models.LocalUser, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	if rg.loggedOut {
		return nil, services.ErrNoCredential
	}
	if !rg.resolved {
		rg.user, rg.payload, rg.authCtx, rg.err = rg.guard.resolve(ctx, rg.request)
		rg.resolved = true
		if rg.err == nil {
			rg.guard.emit(ctx, rg.event(models.AuthEventAuthenticated))
		}
	}
	return rg.user, rg.err
}

// Check reports whether the request is authenticated
func (rg *RequestGuard) Check(ctx context.Context) bool {
	user, err := rg.User(ctx)
	return err == nil && user != nil
}

// Validate resolves the user and emits validated on success or failed otherwise
func (rg *RequestGuard) Validate(ctx context.Context) bool {
	user, err := rg.User(ctx)

	rg.mu.Lock()
	defer rg.mu.Unlock()
	if err == nil && user != nil {
		rg.guard.emit(ctx, rg.event(models.AuthEventValidated))
		return true
	}
	rg.guard.emit(ctx, rg.event(models.AuthEventFailed))
	return false
}

// Logout clears the request identity, emitting logout when a user was set.
// Cached provider results are left to expire.
func (rg *RequestGuard) Logout(ctx context.Context) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	if rg.user != nil {
		rg.guard.emit(ctx, rg.event(models.AuthEventLogout))
	}
	rg.user = nil
	rg.payload = nil
	rg.loggedOut = true
}

// Payload returns the identity payload of the authenticated request
func (rg *RequestGuard) Payload() models.IdentityPayload {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.payload
}

// AuthContext returns the resolved scoping headers
func (rg *RequestGuard) AuthContext() models.AuthContext {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.authCtx
}

// event must be called with rg.mu held
func (rg *RequestGuard) event(eventType models.AuthEventType) Event {
	r := rg.request
	return Event{
		Type:       eventType,
		Guard:      rg.guard.cfg.Name,
		User:       rg.user,
		Payload:    rg.payload,
		Context:    rg.authCtx,
		AccountID:  rg.authCtx[rg.guard.cfg.AccountHeader],
		RequestID:  chimw.GetReqID(r.Context()),
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		OccurredAt: rg.guard.now(),
	}
}

// resolve runs token extraction, cache lookup, provider call and user sync
func (g *Guard) resolve(ctx context.Context, r *http.Request) (*models.LocalUser, models.IdentityPayload, models.AuthContext, error) {
	var (
		in  *Input
		err error
	)
	if g.needsInput(r) {
		if in, err = ReadInput(r, g.cfg.MaxBodyBytes); err != nil {
			g.logger.Debug("request input not parsed", zap.Error(err))
		}
	}

	token := g.tokens.Token(r, in)
	if token == "" {
		return nil, nil, nil, services.ErrNoCredential
	}

	authCtx := g.contextHeaders(r, in)

	authenticate := func(ctx context.Context) (models.IdentityPayload, error) {
		return g.provider.Authenticate(ctx, token, authCtx)
	}

	var payload models.IdentityPayload
	if g.cache != nil {
		key := cache.Key(g.provider.CacheKeyPrefix(), token, authCtx)
		payload, err = g.cache.Remember(ctx, key, g.cfg.CacheTTL, authenticate)
	} else {
		payload, err = authenticate(ctx)
	}
	if err != nil {
		g.logger.Warn("authentication failed",
			zap.String("guard", g.cfg.Name),
			zap.String("provider", g.provider.Name()),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		return nil, nil, authCtx, err
	}

	user, err := g.sync.Sync(ctx, payload, models.SyncContext{
		AccountID: authCtx[g.cfg.AccountHeader],
		AppKey:    authCtx[g.cfg.AppHeader],
	})
	if err != nil {
		g.logger.Warn("user synchronization failed",
			zap.String("guard", g.cfg.Name),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		return nil, nil, authCtx, err
	}

	return user, payload, authCtx, nil
}

// needsInput reports whether the query or body can contribute a value the
// headers did not: the token or a scoping header fallback
func (g *Guard) needsInput(r *http.Request) bool {
	if BearerToken(r) == "" {
		return true
	}
	for _, name := range []string{g.cfg.AccountHeader, g.cfg.AppHeader} {
		if name != "" && r.Header.Get(name) == "" {
			return true
		}
	}
	return false
}

// contextHeaders resolves each scoping header from the request header, else
// from the snake-cased input field. Absent values are omitted.
func (g *Guard) contextHeaders(r *http.Request, in *Input) models.AuthContext {
	headers := models.AuthContext{}
	for _, name := range []string{g.cfg.AccountHeader, g.cfg.AppHeader} {
		if name == "" {
			continue
		}
		value := r.Header.Get(name)
		if value == "" {
			value = in.Get(SnakeCase(name))
		}
		if value != "" {
			headers[name] = value
		}
	}
	return headers
}

func (g *Guard) emit(ctx context.Context, event Event) {
	for _, o := range g.observers {
		o.HandleAuthEvent(ctx, event)
	}
}
