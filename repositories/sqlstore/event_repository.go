package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/repositories"
	"go.uber.org/zap"
)

// AuthEventRepository implements the repositories.AuthEventRepository interface
type AuthEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuthEventRepository creates a new auth event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) repositories.AuthEventRepository {
	return &AuthEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	p := r.db.dialect.Placeholder
	query := fmt.Sprintf(`
		INSERT INTO auth_events (
			id, event_type, guard, external_id, user_id, account_id,
			ip_address, user_agent, request_id, occurred_at
		) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8), p(9), p(10))

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		event.ID.String(),
		string(event.Type),
		event.Guard,
		nullString(event.ExternalID),
		nullString(event.UserID),
		nullString(event.AccountID),
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		nullString(event.RequestID),
		event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	r.logger.Debug("auth event inserted",
		zap.String("id", event.ID.String()),
		zap.String("type", string(event.Type)))
	return nil
}

// ListByExternalID returns the latest events for an identity, newest first
func (r *AuthEventRepository) ListByExternalID(ctx context.Context, externalID string, limit int) ([]*models.AuthEvent, error) {
	p := r.db.dialect.Placeholder
	query := fmt.Sprintf(`
		SELECT id, event_type, guard, external_id, user_id, account_id,
		       ip_address, user_agent, request_id, occurred_at
		FROM auth_events
		WHERE external_id = %s
		ORDER BY occurred_at DESC
		LIMIT %s
	`, p(1), p(2))

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, externalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuthEvent
	for rows.Next() {
		var id, eventType, guard string
		var extID, userID, accountID, ipAddress, userAgent, requestID sql.NullString
		var event models.AuthEvent
		if err := rows.Scan(&id, &eventType, &guard, &extID, &userID, &accountID,
			&ipAddress, &userAgent, &requestID, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		if err := event.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("invalid auth event id %q: %w", id, err)
		}
		event.Type = models.AuthEventType(eventType)
		event.Guard = guard
		event.ExternalID = extID.String
		event.UserID = userID.String
		event.AccountID = accountID.String
		event.IPAddress = ipAddress.String
		event.UserAgent = userAgent.String
		event.RequestID = requestID.String
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth event rows: %w", err)
	}

	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
