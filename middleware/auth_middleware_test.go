package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-bridge/guard"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/services"
	"go.uber.org/zap"
)

// MockAuthProvider is a mock implementation of providers.AuthProvider
type MockAuthProvider struct {
	mock.Mock
}

func (m *MockAuthProvider) Name() string           { return "mock" }
func (m *MockAuthProvider) CacheKeyPrefix() string { return "mock" }

func (m *MockAuthProvider) Authenticate(ctx context.Context, token string, authCtx models.AuthContext) (models.IdentityPayload, error) {
	args := m.Called(ctx, token, authCtx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.IdentityPayload), args.Error(1)
}

// MockSynchronizer is a mock implementation of guard.Synchronizer
type MockSynchronizer struct {
	mock.Mock
}

func (m *MockSynchronizer) Sync(ctx context.Context, payload models.IdentityPayload, syncCtx models.SyncContext) (*models.LocalUser, error) {
	args := m.Called(ctx, payload, syncCtx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LocalUser), args.Error(1)
}

func newTestMiddleware(provider *MockAuthProvider, syncer *MockSynchronizer) *AuthMiddleware {
	g := guard.New(guard.Config{
		Name:          "test",
		InputKey:      "api_token",
		StorageKey:    "api_token",
		AccountHeader: "X-Account-ID",
		AppHeader:     "X-App-Key",
	}, provider, nil, syncer, zap.NewNop())
	return NewAuthMiddleware(g, zap.NewNop())
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestRequireAuth(t *testing.T) {
	payload := models.IdentityPayload{"id": "abc", "email": "a@x.io"}
	user := models.NewLocalUser("id", map[string]any{"id": "row-1", "external_user_id": "abc"})

	t.Run("valid bearer token allows request", func(t *testing.T) {
		provider := new(MockAuthProvider)
		syncer := new(MockSynchronizer)
		provider.On("Authenticate", mock.Anything, "good-token", models.AuthContext{}).Return(payload, nil)
		syncer.On("Sync", mock.Anything, payload, models.SyncContext{}).Return(user, nil)

		handler := newTestMiddleware(provider, syncer).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			assert.Equal(t, user, GetUserFromContext(ctx))
			assert.Equal(t, payload, GetPayloadFromContext(ctx))
			require.NotNil(t, GetGuardFromContext(ctx))
			assert.True(t, GetGuardFromContext(ctx).Check(ctx))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		provider.AssertNumberOfCalls(t, "Authenticate", 1)
		syncer.AssertExpectations(t)
	})

	t.Run("token cookie and scoping header are forwarded", func(t *testing.T) {
		provider := new(MockAuthProvider)
		syncer := new(MockSynchronizer)
		authCtx := models.AuthContext{"X-Account-ID": "42"}
		provider.On("Authenticate", mock.Anything, "cookie-token", authCtx).Return(payload, nil)
		syncer.On("Sync", mock.Anything, payload, models.SyncContext{AccountID: "42"}).Return(user, nil)

		handler := newTestMiddleware(provider, syncer).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "api_token", Value: "cookie-token"})
		req.Header.Set("X-Account-ID", "42")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		provider.AssertExpectations(t)
		syncer.AssertExpectations(t)
	})

	failures := []struct {
		name  string
		token string
		err   error
	}{
		{name: "missing token", token: ""},
		{name: "rejected token", token: "bad", err: services.Unauthenticated("identity api returned status 401", nil)},
		{name: "upstream unavailable", token: "bad", err: services.UpstreamUnavailable("identity request failed", nil)},
		{name: "unknown signing key", token: "bad", err: services.ErrUnknownSigningKey},
		{name: "missing identity", token: "bad", err: services.ErrMissingIdentity},
	}

	for _, tc := range failures {
		t.Run(tc.name+" returns uniform 401", func(t *testing.T) {
			provider := new(MockAuthProvider)
			syncer := new(MockSynchronizer)
			if tc.token != "" {
				provider.On("Authenticate", mock.Anything, tc.token, mock.Anything).Return(nil, tc.err)
			}

			handler := newTestMiddleware(provider, syncer).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, map[string]string{"error": "unauthorized", "message": "Unauthenticated"}, decodeError(t, w))
			if tc.token == "" {
				provider.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
			}
			syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("sync failure returns uniform 401", func(t *testing.T) {
		provider := new(MockAuthProvider)
		syncer := new(MockSynchronizer)
		provider.On("Authenticate", mock.Anything, "good-token", mock.Anything).Return(payload, nil)
		syncer.On("Sync", mock.Anything, payload, mock.Anything).Return(nil, services.WrapInternal("insert failed", assert.AnError))

		handler := newTestMiddleware(provider, syncer).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Unauthenticated", decodeError(t, w)["message"])
	})
}

func TestRequireRoleAndPermission(t *testing.T) {
	logger := zap.NewNop()
	m := NewAuthMiddleware(nil, logger)
	user := models.NewLocalUser("id", map[string]any{"id": "row-1"})
	payload := models.IdentityPayload{
		"id":          "abc",
		"roles":       []any{"admin", map[string]any{"name": "editor"}},
		"permissions": []any{map[string]any{"slug": "posts.write"}, "posts.read"},
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		middleware func(http.Handler) http.Handler
		user       *models.LocalUser
		wantStatus int
	}{
		{name: "string role granted", middleware: m.RequireRole("admin"), user: user, wantStatus: http.StatusOK},
		{name: "object role granted", middleware: m.RequireRole("editor"), user: user, wantStatus: http.StatusOK},
		{name: "role missing", middleware: m.RequireRole("owner"), user: user, wantStatus: http.StatusForbidden},
		{name: "slug permission granted", middleware: m.RequirePermission("posts.write"), user: user, wantStatus: http.StatusOK},
		{name: "string permission granted", middleware: m.RequirePermission("posts.read"), user: user, wantStatus: http.StatusOK},
		{name: "permission missing", middleware: m.RequirePermission("posts.delete"), user: user, wantStatus: http.StatusForbidden},
		{name: "role name is not a permission", middleware: m.RequirePermission("admin"), user: user, wantStatus: http.StatusForbidden},
		{name: "unauthenticated request", middleware: m.RequireRole("admin"), user: nil, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			ctx := req.Context()
			if tt.user != nil {
				ctx = WithUser(ctx, tt.user)
				ctx = WithPayload(ctx, payload)
			}
			w := httptest.NewRecorder()

			tt.middleware(ok).ServeHTTP(w, req.WithContext(ctx))

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetRequestIDFromContext(ctx))
	assert.Nil(t, GetUserFromContext(ctx))
	assert.Nil(t, GetPayloadFromContext(ctx))
	assert.Nil(t, GetGuardFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestIDFromContext(ctx))

	payload := models.IdentityPayload{"id": "abc"}
	ctx = WithPayload(ctx, payload)
	assert.Equal(t, payload, GetPayloadFromContext(ctx))
}
