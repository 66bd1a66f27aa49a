package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// AppKeyCookieName carries the application key to the browser after login
	AppKeyCookieName = "x_app_key"

	stateCookieMaxAge  = 300
	defaultTokenMaxAge = 1800
)

// apiSuffix matches the API path segment the OAuth endpoints live outside of
var apiSuffix = regexp.MustCompile(`/api(/v[\d.]+)?$`)

// RemoteLogout revokes a token at the identity server
type RemoteLogout interface {
	Logout(ctx context.Context, serverBase, token string) error
}

// Handler drives the authorization code flow against the identity server:
// redirect, social redirect, callback and logout.
type Handler struct {
	cfg        *config.Config
	oauth      *oauth2.Config
	httpClient *http.Client
	remote     RemoteLogout
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler creates a new OAuth handler. httpClient is used for the token
// exchange; remote may be nil to skip remote logout.
func NewHandler(cfg *config.Config, httpClient *http.Client, remote RemoteLogout, logger *zap.Logger) *Handler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Handler{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   ServerBase(cfg.AuthBridge.PublicURL) + "/oauth/authorize",
				TokenURL:  ServerBase(cfg.AuthBridge.BaseURL) + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		remote:     remote,
		logger:     logger,
		now:        time.Now,
	}
}

// ServerBase strips a trailing "/api" or "/api/vN[.M]" segment from an API
// root, leaving the server root where the OAuth endpoints are mounted
func ServerBase(apiURL string) string {
	trimmed := strings.TrimRight(apiURL, "/")
	if trimmed == "" {
		return ""
	}
	if stripped := apiSuffix.ReplaceAllString(trimmed, ""); stripped != "" {
		return stripped
	}
	return trimmed
}

// HandleRedirect starts the authorization code flow
func (h *Handler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	state, err := h.prepareState(w)
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	h.redirectAway(w, r, h.authorizeURL(state))
}

// HandleSocial sends the browser to the identity server's social login for
// the provider, returning to the authorize URL afterwards
func (h *Handler) HandleSocial(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !slices.Contains(h.cfg.OAuth.SocialProviders, provider) {
		_ = utils.WriteNotFound(w, "Unknown social provider")
		return
	}

	state, err := h.prepareState(w)
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	target := ServerBase(h.cfg.AuthBridge.PublicURL) + "/login/social/" + url.PathEscape(provider) +
		"?" + url.Values{"intended": {h.authorizeURL(state)}}.Encode()
	h.redirectAway(w, r, target)
}

// HandleCallback validates the state, exchanges the code for an access token
// and stores the token in the guard's cookie
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	incoming := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(h.stateCookieName())
	h.clearCookie(w, h.stateCookieName())

	if err != nil || stateCookie.Value == "" || incoming == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(incoming)) != 1 {
		_ = utils.WriteBadRequest(w, "Invalid state", nil)
		return
	}

	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, h.httpClient)
	token, err := h.oauth.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Error("oauth token exchange failed",
			zap.String("url", h.oauth.Endpoint.TokenURL),
			zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Token exchange failed")
		return
	}

	maxAge := defaultTokenMaxAge
	if !token.Expiry.IsZero() {
		maxAge = int(token.Expiry.Sub(h.now()).Round(time.Second).Seconds())
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.AuthBridge.Guard.StorageKey,
		Value:    token.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	if h.cfg.AuthBridge.AppKey != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     AppKeyCookieName,
			Value:    h.cfg.AuthBridge.AppKey,
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   h.cfg.IsProduction(),
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, h.cfg.OAuth.PostLoginRedirect, http.StatusFound)
}

// HandleLogout revokes the stored token at the identity server, best effort,
// then clears the token and state cookies
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cfg.AuthBridge.Guard.StorageKey); err == nil && cookie.Value != "" && h.remote != nil {
		if err := h.remote.Logout(r.Context(), ServerBase(h.cfg.AuthBridge.BaseURL), cookie.Value); err != nil {
			h.logger.Warn("remote logout failed", zap.Error(err))
		}
	}

	h.clearCookie(w, h.cfg.AuthBridge.Guard.StorageKey)
	h.clearCookie(w, h.stateCookieName())

	http.Redirect(w, r, h.cfg.OAuth.PostLogoutRedirect, http.StatusFound)
}

func (h *Handler) authorizeURL(state string) string {
	return h.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", ""))
}

func (h *Handler) stateCookieName() string {
	return h.cfg.AuthBridge.Guard.StorageKey + "_state"
}

func (h *Handler) prepareState(w http.ResponseWriter) (string, error) {
	state, err := generateSecureState()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.stateCookieName(),
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectAway answers Inertia visits with a 409 location hint so the client
// performs a full page navigation
func (h *Handler) redirectAway(w http.ResponseWriter, r *http.Request, target string) {
	if r.Header.Get("X-Inertia") != "" {
		w.Header().Set("X-Inertia-Location", target)
		w.WriteHeader(http.StatusConflict)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// generateSecureState returns 32 URL-safe random characters
func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
