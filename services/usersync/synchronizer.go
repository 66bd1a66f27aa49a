package usersync

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/repositories"
	"github.com/upb/auth-bridge/services"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// timeLayouts are the accepted string forms of last_seen_at and email_verified_at
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Synchronizer maps identity payloads onto rows of the local users table
type Synchronizer struct {
	users        repositories.UserRepository
	txMgr        repositories.TransactionManager
	columns      config.UserColumns
	logger       *zap.Logger
	now          func() time.Time
	passwordCost int
}

// NewSynchronizer creates a new Synchronizer. txMgr may be nil, in which case
// lookup and write run without a transaction.
func NewSynchronizer(users repositories.UserRepository, txMgr repositories.TransactionManager, columns config.UserColumns, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		users:        users,
		txMgr:        txMgr,
		columns:      columns,
		logger:       logger,
		now:          time.Now,
		passwordCost: bcrypt.DefaultCost,
	}
}

// Sync upserts the local user identified by the payload's external id.
// A payload without a usable id fails with ErrMissingIdentity. When a
// concurrent first sync wins the insert race the write is retried once as an update.
func (s *Synchronizer) Sync(ctx context.Context, payload models.IdentityPayload, syncCtx models.SyncContext) (*models.LocalUser, error) {
	externalID, ok := payload.ExternalID()
	if !ok {
		return nil, services.ErrMissingIdentity
	}

	user, err := s.syncInTransaction(ctx, externalID, payload, syncCtx)
	if errors.Is(err, repositories.ErrDuplicate) {
		s.logger.Info("concurrent user creation detected, retrying as update",
			zap.String("external_id", externalID))
		user, err = s.syncInTransaction(ctx, externalID, payload, syncCtx)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.NewDomainError(services.ErrorTypeConflict, "user sync conflict", err)
		}
		return nil, services.WrapInternal("user sync failed", err)
	}

	s.logger.Debug("user synchronized",
		zap.String("external_id", externalID),
		zap.String("user_id", user.IDString()),
		zap.Bool("created", user.Created))
	return user, nil
}

func (s *Synchronizer) syncInTransaction(ctx context.Context, externalID string, payload models.IdentityPayload, syncCtx models.SyncContext) (*models.LocalUser, error) {
	if s.txMgr == nil {
		return s.upsert(ctx, externalID, payload, syncCtx)
	}
	return services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, _ repositories.Transaction) (*models.LocalUser, error) {
		return s.upsert(ctx, externalID, payload, syncCtx)
	})
}

func (s *Synchronizer) upsert(ctx context.Context, externalID string, payload models.IdentityPayload, syncCtx models.SyncContext) (*models.LocalUser, error) {
	existing, err := s.users.FindByColumn(ctx, s.columns.ExternalIDColumn, externalID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	attributes, err := s.Attributes(externalID, payload, syncCtx)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		if err := s.setPassword(attributes, nil); err != nil {
			return nil, err
		}
		attributes[s.columns.ModelIDColumn] = uuid.NewString()
		if err := s.users.Create(ctx, attributes); err != nil {
			return nil, err
		}
		user := models.NewLocalUser(s.columns.ModelIDColumn, attributes)
		user.Created = true
		return user, nil
	}

	if err := s.setPassword(attributes, existing); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, existing.ID(), attributes); err != nil {
		return nil, err
	}
	for column, value := range attributes {
		existing.Attributes[column] = value
	}
	return existing, nil
}

// Attributes computes the column values written for payload. Disabled
// columns are omitted. The password and model id are not included.
func (s *Synchronizer) Attributes(externalID string, payload models.IdentityPayload, syncCtx models.SyncContext) (map[string]any, error) {
	cols := s.columns
	attributes := map[string]any{cols.ExternalIDColumn: externalID}

	set := func(column string, value any) {
		if column != "" {
			attributes[column] = value
		}
	}

	set(cols.NameColumn, scalarOrJSON(payload["name"]))
	if email, ok := payload["email"].(string); ok {
		set(cols.EmailColumn, strings.ToLower(email))
	} else {
		set(cols.EmailColumn, scalarOrJSON(payload["email"]))
	}
	set(cols.StatusColumn, scalarOrJSON(payload["status"]))
	set(cols.AccountIDColumn, resolveAccountID(payload, syncCtx))
	set(cols.AvatarColumn, scalarOrJSON(payload["avatar_url"]))
	set(cols.SyncedAtColumn, s.now().UTC())

	accounts := accountsOf(payload)
	if cols.AccountIDsColumn != "" {
		encoded, err := encodeJSON(accounts)
		if err != nil {
			return nil, fmt.Errorf("failed to encode accounts: %w", err)
		}
		attributes[cols.AccountIDsColumn] = encoded
	}
	if cols.AppIDsColumn != "" {
		encoded, err := encodeJSON(appsOf(payload, accounts))
		if err != nil {
			return nil, fmt.Errorf("failed to encode apps: %w", err)
		}
		attributes[cols.AppIDsColumn] = encoded
	}
	if cols.PayloadColumn != "" {
		encoded, err := encodeJSON(map[string]any(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		attributes[cols.PayloadColumn] = encoded
	}

	if cols.LastSeenColumn != "" {
		attributes[cols.LastSeenColumn] = s.timestamp("last_seen_at", payload["last_seen_at"])
	}
	// email_verified_at is only written when present so a verified user is never reset
	if cols.EmailVerifiedAtColumn != "" && truthy(payload["email_verified_at"]) {
		if verifiedAt := s.timestamp("email_verified_at", payload["email_verified_at"]); verifiedAt != nil {
			attributes[cols.EmailVerifiedAtColumn] = verifiedAt
		}
	}

	return attributes, nil
}

// setPassword stores a random bcrypt hash when the password column is enabled and empty
func (s *Synchronizer) setPassword(attributes map[string]any, existing *models.LocalUser) error {
	column := s.columns.PasswordColumn
	if column == "" || (existing != nil && existing.Has(column)) {
		return nil
	}

	secret := make([]byte, 30)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to generate password placeholder: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(base64.RawURLEncoding.EncodeToString(secret)), s.passwordCost)
	if err != nil {
		return fmt.Errorf("failed to hash password placeholder: %w", err)
	}
	attributes[column] = string(hash)
	return nil
}

// timestamp parses value, logging and returning nil when it cannot
func (s *Synchronizer) timestamp(field string, value any) any {
	if !truthy(value) {
		return nil
	}
	t, ok := ParseTime(value)
	if !ok {
		s.logger.Warn("unparseable timestamp in identity payload",
			zap.String("field", field),
			zap.Any("value", value))
		return nil
	}
	return t.UTC()
}

// ParseTime accepts RFC 3339, "2006-01-02 15:04:05", "2006-01-02" and unix seconds
func ParseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		v = strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0), true
		}
	case json.Number:
		if secs, err := v.Int64(); err == nil {
			return time.Unix(secs, 0), true
		}
		if f, err := v.Float64(); err == nil {
			return time.Unix(int64(f), 0), true
		}
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	}
	return time.Time{}, false
}

// resolveAccountID prefers the request scope, then account.id, then accounts.0.id
func resolveAccountID(payload models.IdentityPayload, syncCtx models.SyncContext) any {
	if syncCtx.AccountID != "" {
		return syncCtx.AccountID
	}
	for _, path := range []string{"account.id", "accounts.0.id"} {
		if value, ok := payload.Get(path); ok && value != nil {
			return scalarOrJSON(value)
		}
	}
	return nil
}

// accountsOf returns the account list, an empty list when absent
func accountsOf(payload models.IdentityPayload) any {
	value, ok := payload["accounts"]
	if !ok {
		return []any{}
	}
	return value
}

// appsOf returns the payload's apps, or the accounts' apps flattened and unique by id
func appsOf(payload models.IdentityPayload, accounts any) []any {
	switch v := payload["apps"].(type) {
	case nil:
	case []any:
		if len(v) > 0 {
			return v
		}
	default:
		return []any{v}
	}

	list, _ := accounts.([]any)
	apps := []any{}
	seen := make(map[string]bool)
	for _, account := range list {
		accountMap, ok := account.(map[string]any)
		if !ok {
			continue
		}
		nested, _ := accountMap["apps"].([]any)
		for _, app := range nested {
			key := appKey(app)
			if seen[key] {
				continue
			}
			seen[key] = true
			apps = append(apps, app)
		}
	}
	return apps
}

// appKey identifies an app by its id; apps without one share the empty key
func appKey(app any) string {
	if m, ok := app.(map[string]any); ok {
		return models.ScalarString(m["id"])
	}
	return ""
}

// encodeJSON renders lists and objects without HTML escaping; scalars pass
// through and nil stays NULL
func encodeJSON(value any) (any, error) {
	switch value.(type) {
	case nil:
		return nil, nil
	case string, bool, float64, int, int64, json.Number:
		return scalarOrJSON(value), nil
	}
	return marshalJSON(value)
}

func marshalJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// scalarOrJSON passes scalars through and encodes anything else
func scalarOrJSON(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool, float64, int, int64:
		return v
	case json.Number:
		return v.String()
	}
	encoded, err := marshalJSON(value)
	if err != nil {
		return nil
	}
	return encoded
}

// truthy mirrors a loose emptiness check: nil, "", false and zero are empty
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != "" && v != "0"
	case bool:
		return v
	case json.Number:
		return v.String() != "0"
	case float64:
		return v != 0
	default:
		return true
	}
}
