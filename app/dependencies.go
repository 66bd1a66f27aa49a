package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/upb/auth-bridge/auth"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/guard"
	"github.com/upb/auth-bridge/internal/observability"
	"github.com/upb/auth-bridge/middleware"
	"github.com/upb/auth-bridge/repositories"
	"github.com/upb/auth-bridge/repositories/sqlstore"
	"github.com/upb/auth-bridge/services/audit"
	"github.com/upb/auth-bridge/services/authapi"
	"github.com/upb/auth-bridge/services/cache"
	"github.com/upb/auth-bridge/services/providers"
	"github.com/upb/auth-bridge/services/usersync"
	"github.com/upb/auth-bridge/utils"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	DB         *sqlstore.DB
	Logger     *zap.Logger
	HTTPClient *http.Client

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	Users      repositories.UserRepository
	AuthEvents repositories.AuthEventRepository
	TxManager  repositories.TransactionManager

	// Observability; nil when metrics are disabled
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	// Authentication pipeline
	Provider     providers.AuthProvider
	CacheStore   cache.Store
	AuthCache    *cache.AuthCache
	Synchronizer *usersync.Synchronizer
	Guard        *guard.Guard
	Audit        *audit.AuditService

	// IdentityAPI is set when a base URL is configured
	IdentityAPI *authapi.Client

	AuthMiddleware *middleware.AuthMiddleware
	authHandler    *auth.Handler
}

// AuthHandler returns the OAuth handler for route wiring
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: utils.NewHTTPClient(cfg.AuthBridge.HTTP.Timeout, cfg.AuthBridge.HTTP.ConnectTimeout),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initMetrics(cfg)

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the users database and verifies the connection
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := sqlstore.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	d.Logger.Info("users database ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("table", cfg.Users.Table))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.AuthEvents = repos.AuthEvents
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initMetrics registers the bridge collectors with a dedicated registry
func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		return
	}

	d.Metrics = observability.NewMetrics()
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		d.Metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// initAuth builds the provider, cache, synchronizer, guard and OAuth client
func (d *Dependencies) initAuth(cfg *config.Config) error {
	opts := providers.Options{HTTPClient: d.HTTPClient}
	var lookups cache.LookupRecorder
	var upstream authapi.UpstreamRecorder
	if d.Metrics != nil {
		opts.UpstreamMetrics = d.Metrics
		opts.KeySetMetrics = d.Metrics
		lookups = d.Metrics
		upstream = d.Metrics
	}

	provider, err := providers.New(cfg.AuthBridge, opts, d.Logger)
	if err != nil {
		return err
	}
	d.Provider = provider

	store, err := cache.NewStore(cfg.AuthBridge.Cache, cfg.Redis, d.Logger)
	if err != nil {
		return err
	}
	d.CacheStore = store
	d.AuthCache = cache.New(store, lookups, d.Logger)

	d.Synchronizer = usersync.NewSynchronizer(d.Users, d.TxManager, cfg.Users, d.Logger)

	var observers []guard.Observer
	if d.Metrics != nil {
		observers = append(observers, d.Metrics)
	}
	if cfg.Audit.Enabled {
		d.Audit = audit.NewAuditService(d.AuthEvents, d.Logger, audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			WorkerCount: cfg.Audit.WorkerCount,
		})
		if err := d.Audit.Start(); err != nil {
			return err
		}
		observers = append(observers, d.Audit)
	}

	d.Guard = guard.New(guard.ConfigFrom(cfg.AuthBridge), provider, d.AuthCache, d.Synchronizer, d.Logger, observers...)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Guard, d.Logger)

	var remoteLogout auth.RemoteLogout
	if cfg.AuthBridge.BaseURL != "" {
		d.IdentityAPI = authapi.NewClient(authapi.Config{
			BaseURL:      cfg.AuthBridge.BaseURL,
			UserEndpoint: cfg.AuthBridge.UserEndpoint,
			HTTPClient:   d.HTTPClient,
			Metrics:      upstream,
		}, d.Logger)
		remoteLogout = d.IdentityAPI
	}

	if cfg.OAuth.ClientID == "" {
		d.Logger.Warn("oauth client not configured, oauth endpoints disabled")
	} else {
		d.authHandler = auth.NewHandler(cfg, d.HTTPClient, remoteLogout, d.Logger)
		d.Logger.Info("oauth handler initialized")
	}

	d.Logger.Info("auth guard initialized",
		zap.String("guard", d.Guard.Name()),
		zap.String("provider", provider.Name()),
		zap.Duration("cache_ttl", cfg.AuthBridge.Cache.TTL))
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending auth events before the database goes away
	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.CacheStore != nil {
		if err := d.CacheStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache store: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
