package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthEventType names a guard signal
type AuthEventType string

const (
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventValidated     AuthEventType = "validated"
	AuthEventFailed        AuthEventType = "failed"
	AuthEventLogout        AuthEventType = "logout"
)

// AuthEvent is the persisted record of a guard signal
type AuthEvent struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	Type       AuthEventType `json:"type" db:"event_type"`
	Guard      string        `json:"guard" db:"guard"`
	ExternalID string        `json:"external_id,omitempty" db:"external_id"`
	UserID     string        `json:"user_id,omitempty" db:"user_id"`
	AccountID  string        `json:"account_id,omitempty" db:"account_id"`
	IPAddress  string        `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string        `json:"user_agent,omitempty" db:"user_agent"`
	RequestID  string        `json:"request_id,omitempty" db:"request_id"`
	OccurredAt time.Time     `json:"occurred_at" db:"occurred_at"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(eventType AuthEventType, guard string, at time.Time) *AuthEvent {
	return &AuthEvent{
		ID:         uuid.New(),
		Type:       eventType,
		Guard:      guard,
		OccurredAt: at,
	}
}

// WithUser sets the identity fields
func (e *AuthEvent) WithUser(externalID, userID, accountID string) *AuthEvent {
	e.ExternalID = externalID
	e.UserID = userID
	e.AccountID = accountID
	return e
}

// WithRequest sets request metadata
func (e *AuthEvent) WithRequest(requestID, ipAddress, userAgent string) *AuthEvent {
	e.RequestID = requestID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	return e
}
