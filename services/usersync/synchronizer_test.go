package usersync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/repositories"
	"github.com/upb/auth-bridge/repositories/sqlstore"
	"github.com/upb/auth-bridge/services"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func testColumns() config.UserColumns {
	return config.UserColumns{
		Table:                 "users",
		ModelIDColumn:         "id",
		ExternalIDColumn:      "external_user_id",
		AccountIDColumn:       "external_account_id",
		AccountIDsColumn:      "external_accounts",
		AppIDsColumn:          "external_apps",
		StatusColumn:          "external_status",
		PayloadColumn:         "external_payload",
		SyncedAtColumn:        "external_synced_at",
		AvatarColumn:          "avatar_url",
		LastSeenColumn:        "last_seen_at",
		PasswordColumn:        "password",
		NameColumn:            "name",
		EmailColumn:           "email",
		EmailVerifiedAtColumn: "email_verified_at",
	}
}

type fixture struct {
	db    *sqlstore.DB
	users repositories.UserRepository
	sync  *Synchronizer
	now   time.Time
}

func newFixture(t *testing.T, cols config.UserColumns) *fixture {
	t.Helper()
	db, err := sqlstore.NewDB(config.DatabaseConfig{Driver: "sqlite", SQLiteFile: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(context.Background(), cols))

	f := &fixture{
		db:    db,
		users: sqlstore.NewUserRepository(db, cols, zap.NewNop()),
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sync = NewSynchronizer(f.users, sqlstore.NewTransactionManager(db, zap.NewNop()), cols, zap.NewNop())
	f.sync.now = func() time.Time { return f.now }
	f.sync.passwordCost = bcrypt.MinCost
	return f
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM users").Scan(&n))
	return n
}

func TestSync_EndToEnd(t *testing.T) {
	f := newFixture(t, testColumns())
	payload := models.IdentityPayload{
		"id":       "u1",
		"email":    "A@Example.com",
		"accounts": []any{map[string]any{"id": "42"}},
	}

	user, err := f.sync.Sync(context.Background(), payload, models.SyncContext{AccountID: "42"})
	require.NoError(t, err)
	assert.True(t, user.Created)

	stored, err := f.users.FindByColumn(context.Background(), "external_user_id", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.String("external_user_id"))
	assert.Equal(t, "a@example.com", stored.String("email"))
	assert.Equal(t, "42", stored.String("external_account_id"))
	assert.Equal(t, `[{"id":"42"}]`, stored.String("external_accounts"))
	assert.Equal(t, "[]", stored.String("external_apps"))
	assert.Equal(t, user.IDString(), stored.IDString())
	assert.Equal(t, 1, f.count(t))
}

func TestSync_Idempotent(t *testing.T) {
	f := newFixture(t, testColumns())
	ctx := context.Background()
	payload := models.IdentityPayload{
		"id":           "u1",
		"name":         "Ada",
		"email":        "ada@example.com",
		"status":       "active",
		"last_seen_at": "2024-04-30T08:00:00Z",
		"accounts":     []any{map[string]any{"id": "42", "apps": []any{map[string]any{"id": "a1"}}}},
	}

	first, err := f.sync.Sync(ctx, payload, models.SyncContext{})
	require.NoError(t, err)
	before, err := f.users.GetByID(ctx, first.ID())
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	second, err := f.sync.Sync(ctx, payload, models.SyncContext{})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.IDString(), second.IDString())

	after, err := f.users.GetByID(ctx, first.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t))

	for column, value := range before.Attributes {
		if column == "external_synced_at" {
			continue
		}
		assert.Equal(t, value, after.Attributes[column], column)
	}
	assert.NotEqual(t, before.Get("external_synced_at"), after.Get("external_synced_at"))
}

func TestSync_MissingIdentity(t *testing.T) {
	f := newFixture(t, testColumns())

	for _, payload := range []models.IdentityPayload{
		{},
		{"id": ""},
		{"id": "   "},
		{"id": json.Number("5")},
		{"email": "a@example.com"},
	} {
		_, err := f.sync.Sync(context.Background(), payload, models.SyncContext{})
		assert.ErrorIs(t, err, services.ErrMissingIdentity)
	}
	assert.Equal(t, 0, f.count(t))
}

func TestSync_UpdatesExistingUser(t *testing.T) {
	f := newFixture(t, testColumns())
	ctx := context.Background()

	_, err := f.sync.Sync(ctx, models.IdentityPayload{"id": "u1", "email": "old@example.com"}, models.SyncContext{})
	require.NoError(t, err)
	_, err = f.sync.Sync(ctx, models.IdentityPayload{"id": "u1", "email": "NEW@example.com", "status": "suspended"}, models.SyncContext{})
	require.NoError(t, err)

	stored, err := f.users.FindByColumn(ctx, "external_user_id", "u1")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", stored.String("email"))
	assert.Equal(t, "suspended", stored.String("external_status"))
	assert.Equal(t, 1, f.count(t))
}

func TestSync_PasswordPlaceholderSetOnce(t *testing.T) {
	f := newFixture(t, testColumns())
	ctx := context.Background()
	payload := models.IdentityPayload{"id": "u1"}

	first, err := f.sync.Sync(ctx, payload, models.SyncContext{})
	require.NoError(t, err)
	hash := first.String("password")
	require.NotEmpty(t, hash)
	_, err = bcrypt.Cost([]byte(hash))
	require.NoError(t, err)

	_, err = f.sync.Sync(ctx, payload, models.SyncContext{})
	require.NoError(t, err)

	stored, err := f.users.FindByColumn(ctx, "external_user_id", "u1")
	require.NoError(t, err)
	assert.Equal(t, hash, stored.String("password"))
}

func TestSync_DisabledColumns(t *testing.T) {
	cols := config.UserColumns{
		Table:            "members",
		ModelIDColumn:    "id",
		ExternalIDColumn: "uid",
		EmailColumn:      "email",
	}
	f := newFixture(t, cols)

	user, err := f.sync.Sync(context.Background(), models.IdentityPayload{
		"id":     "u1",
		"email":  "A@B.C",
		"status": "active",
	}, models.SyncContext{AccountID: "42"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"id", "uid", "email"}, keys(user.Attributes))
	assert.Equal(t, "a@b.c", user.String("email"))
}

func TestAttributes(t *testing.T) {
	s := NewSynchronizer(nil, nil, testColumns(), zap.NewNop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	t.Run("account id precedence", func(t *testing.T) {
		tests := []struct {
			name    string
			payload models.IdentityPayload
			ctx     models.SyncContext
			want    any
		}{
			{
				name:    "context wins",
				payload: models.IdentityPayload{"account": map[string]any{"id": "7"}, "accounts": []any{map[string]any{"id": "8"}}},
				ctx:     models.SyncContext{AccountID: "42"},
				want:    "42",
			},
			{
				name:    "primary account",
				payload: models.IdentityPayload{"account": map[string]any{"id": json.Number("7")}, "accounts": []any{map[string]any{"id": "8"}}},
				want:    "7",
			},
			{
				name:    "first account",
				payload: models.IdentityPayload{"accounts": []any{map[string]any{"id": "8"}, map[string]any{"id": "9"}}},
				want:    "8",
			},
			{
				name:    "none",
				payload: models.IdentityPayload{},
				want:    nil,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				attrs, err := s.Attributes("u1", tt.payload, tt.ctx)
				require.NoError(t, err)
				assert.Equal(t, tt.want, attrs["external_account_id"])
			})
		}
	})

	t.Run("apps fall back to account apps unique by id", func(t *testing.T) {
		payload := models.IdentityPayload{
			"accounts": []any{
				map[string]any{"id": "1", "apps": []any{
					map[string]any{"id": "a1", "name": "first"},
					map[string]any{"id": "a2"},
				}},
				map[string]any{"id": "2", "apps": []any{
					map[string]any{"id": "a1", "name": "second"},
					map[string]any{"id": "a3"},
				}},
			},
		}

		attrs, err := s.Attributes("u1", payload, models.SyncContext{})
		require.NoError(t, err)
		assert.Equal(t, `[{"id":"a1","name":"first"},{"id":"a2"},{"id":"a3"}]`, attrs["external_apps"])
	})

	t.Run("explicit apps win", func(t *testing.T) {
		payload := models.IdentityPayload{
			"apps":     []any{map[string]any{"id": "x"}},
			"accounts": []any{map[string]any{"id": "1", "apps": []any{map[string]any{"id": "a1"}}}},
		}

		attrs, err := s.Attributes("u1", payload, models.SyncContext{})
		require.NoError(t, err)
		assert.Equal(t, `[{"id":"x"}]`, attrs["external_apps"])
	})

	t.Run("json keeps slashes and html unescaped", func(t *testing.T) {
		payload := models.IdentityPayload{
			"id":         "u1",
			"avatar_url": "https://cdn.example.com/u1.png",
			"name":       "<Ada & Co>",
		}

		attrs, err := s.Attributes("u1", payload, models.SyncContext{})
		require.NoError(t, err)
		assert.Equal(t, `{"avatar_url":"https://cdn.example.com/u1.png","id":"u1","name":"<Ada & Co>"}`, attrs["external_payload"])
		assert.Equal(t, "https://cdn.example.com/u1.png", attrs["avatar_url"])
		assert.Equal(t, "<Ada & Co>", attrs["name"])
	})

	t.Run("null accounts stay null", func(t *testing.T) {
		attrs, err := s.Attributes("u1", models.IdentityPayload{"accounts": nil}, models.SyncContext{})
		require.NoError(t, err)
		assert.Nil(t, attrs["external_accounts"])
		assert.Equal(t, "[]", attrs["external_apps"])
	})

	t.Run("timestamps", func(t *testing.T) {
		attrs, err := s.Attributes("u1", models.IdentityPayload{
			"last_seen_at":      "2024-04-30 08:00:00",
			"email_verified_at": json.Number("1714464000"),
		}, models.SyncContext{})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC), attrs["last_seen_at"])
		assert.Equal(t, time.Unix(1714464000, 0).UTC(), attrs["email_verified_at"])
		assert.Equal(t, now, attrs["external_synced_at"])
	})

	t.Run("unparseable timestamps become null", func(t *testing.T) {
		attrs, err := s.Attributes("u1", models.IdentityPayload{
			"last_seen_at":      "yesterday-ish",
			"email_verified_at": "soon",
		}, models.SyncContext{})
		require.NoError(t, err)
		assert.Contains(t, attrs, "last_seen_at")
		assert.Nil(t, attrs["last_seen_at"])
		assert.NotContains(t, attrs, "email_verified_at")
	})
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   any
		want time.Time
		ok   bool
	}{
		{"2024-04-30T08:00:00Z", time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC), true},
		{"2024-04-30T10:00:00+02:00", time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC), true},
		{"2024-04-30 08:00:00", time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC), true},
		{"2024-04-30", time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), true},
		{"1714464000", time.Unix(1714464000, 0), true},
		{float64(1714464000), time.Unix(1714464000, 0), true},
		{"not a time", time.Time{}, false},
		{true, time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseTime(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.True(t, tt.want.Equal(got), "%v: got %v", tt.in, got)
		}
	}
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByColumn(ctx context.Context, column string, value any) (*models.LocalUser, error) {
	args := m.Called(ctx, column, value)
	if user := args.Get(0); user != nil {
		return user.(*models.LocalUser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id any) (*models.LocalUser, error) {
	args := m.Called(ctx, id)
	if user := args.Get(0); user != nil {
		return user.(*models.LocalUser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, attributes map[string]any) error {
	return m.Called(ctx, attributes).Error(0)
}

func (m *MockUserRepository) Update(ctx context.Context, id any, attributes map[string]any) error {
	return m.Called(ctx, id, attributes).Error(0)
}

func TestSync_RetriesDuplicateAsUpdate(t *testing.T) {
	repo := new(MockUserRepository)
	s := NewSynchronizer(repo, nil, testColumns(), zap.NewNop())
	s.passwordCost = bcrypt.MinCost
	winner := models.NewLocalUser("id", map[string]any{"id": "row-1", "external_user_id": "u1", "password": "hash"})

	repo.On("FindByColumn", mock.Anything, "external_user_id", "u1").Return(nil, repositories.ErrNotFound).Once()
	repo.On("Create", mock.Anything, mock.Anything).Return(repositories.ErrDuplicate).Once()
	repo.On("FindByColumn", mock.Anything, "external_user_id", "u1").Return(winner, nil).Once()
	repo.On("Update", mock.Anything, "row-1", mock.MatchedBy(func(attrs map[string]any) bool {
		_, hasPassword := attrs["password"]
		return !hasPassword && attrs["email"] == "a@example.com"
	})).Return(nil).Once()

	user, err := s.Sync(context.Background(), models.IdentityPayload{"id": "u1", "email": "A@example.com"}, models.SyncContext{})
	require.NoError(t, err)
	assert.Equal(t, "row-1", user.IDString())
	assert.False(t, user.Created)
	repo.AssertExpectations(t)
}

func TestSync_RepositoryErrorIsInternal(t *testing.T) {
	repo := new(MockUserRepository)
	s := NewSynchronizer(repo, nil, testColumns(), zap.NewNop())
	repo.On("FindByColumn", mock.Anything, "external_user_id", "u1").Return(nil, errors.New("connection refused"))

	_, err := s.Sync(context.Background(), models.IdentityPayload{"id": "u1"}, models.SyncContext{})
	require.Error(t, err)
	assert.True(t, services.IsInternalError(err))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
