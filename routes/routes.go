package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/auth-bridge/app"
	"github.com/upb/auth-bridge/handlers"
	"github.com/upb/auth-bridge/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "https://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Inertia",
			cfg.AuthBridge.Headers.Account, cfg.AuthBridge.Headers.App,
		},
		ExposedHeaders:   []string{"X-Request-ID", "X-Inertia-Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	var identity handlers.IdentityChecker
	if deps.IdentityAPI != nil {
		identity = deps.IdentityAPI
	}
	health := handlers.NewHealthHandler(deps.DB, identity, deps.Logger)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// OAuth authorization code flow against the identity server
	if oauth := deps.AuthHandler(); oauth != nil {
		r.Route("/oauth", func(r chi.Router) {
			r.Get("/redirect", oauth.HandleRedirect)
			r.Get("/social/{provider}", oauth.HandleSocial)
			r.Get("/callback", oauth.HandleCallback)
			r.Post("/logout", oauth.HandleLogout)
		})
	}

	// Authenticated API
	users := handlers.NewUserHandler(deps.Logger, cfg.Users.PasswordColumn)
	r.Route("/api", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		r.Get("/user", users.HandleCurrentUser)
		r.Post("/logout", users.HandleLogout)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
