package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-bridge/guard"
	"github.com/upb/auth-bridge/middleware"
	"github.com/upb/auth-bridge/models"
	"go.uber.org/zap"
)

type staticProvider struct {
	payload models.IdentityPayload
}

func (p staticProvider) Name() string           { return "static" }
func (p staticProvider) CacheKeyPrefix() string { return "static" }
func (p staticProvider) Authenticate(context.Context, string, models.AuthContext) (models.IdentityPayload, error) {
	return p.payload, nil
}

type staticSynchronizer struct {
	user *models.LocalUser
}

func (s staticSynchronizer) Sync(context.Context, models.IdentityPayload, models.SyncContext) (*models.LocalUser, error) {
	return s.user, nil
}

func TestHandleCurrentUser(t *testing.T) {
	handler := NewUserHandler(zap.NewNop(), "password")

	t.Run("returns user without hidden columns and the identity", func(t *testing.T) {
		user := models.NewLocalUser("id", map[string]any{
			"id":               "row-1",
			"external_user_id": "abc",
			"email":            "a@x.io",
			"password":         "$2a$10$hash",
		})
		payload := models.IdentityPayload{"id": "abc", "roles": []any{"admin"}}

		req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
		ctx := middleware.WithPayload(middleware.WithUser(req.Context(), user), payload)
		rec := httptest.NewRecorder()

		handler.HandleCurrentUser(rec, req.WithContext(ctx))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Data CurrentUserResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "row-1", body.Data.User["id"])
		assert.Equal(t, "a@x.io", body.Data.User["email"])
		assert.NotContains(t, body.Data.User, "password")
		assert.Equal(t, "abc", body.Data.Identity["id"])

		// the stored user is untouched
		assert.Equal(t, "$2a$10$hash", user.String("password"))
	})

	t.Run("returns 401 when user missing in context", func(t *testing.T) {
		rec := httptest.NewRecorder()

		handler.HandleCurrentUser(rec, httptest.NewRequest(http.MethodGet, "/api/user", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"unauthorized","message":"Unauthenticated"}`, rec.Body.String())
	})
}

func TestHandleLogout(t *testing.T) {
	handler := NewUserHandler(zap.NewNop())

	t.Run("logs out the request guard", func(t *testing.T) {
		var events []models.AuthEventType
		g := guard.New(guard.Config{Name: "test"},
			staticProvider{payload: models.IdentityPayload{"id": "abc"}},
			nil,
			staticSynchronizer{user: models.NewLocalUser("id", map[string]any{"id": "row-1"})},
			zap.NewNop(),
			guard.ObserverFunc(func(_ context.Context, e guard.Event) { events = append(events, e.Type) }),
		)

		req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
		req.Header.Set("Authorization", "Bearer t")
		rg := g.ForRequest(req)
		require.True(t, rg.Check(req.Context()))

		rec := httptest.NewRecorder()
		handler.HandleLogout(rec, req.WithContext(middleware.WithGuard(req.Context(), rg)))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []models.AuthEventType{models.AuthEventAuthenticated, models.AuthEventLogout}, events)
		assert.False(t, rg.Check(req.Context()))
	})

	t.Run("returns 401 without guard", func(t *testing.T) {
		rec := httptest.NewRecorder()

		handler.HandleLogout(rec, httptest.NewRequest(http.MethodPost, "/api/logout", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
