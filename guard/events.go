package guard

import (
	"context"
	"time"

	"github.com/upb/auth-bridge/models"
)

// Event is a signal emitted by the guard
type Event struct {
	Type       models.AuthEventType
	Guard      string
	User       *models.LocalUser
	Payload    models.IdentityPayload
	Context    models.AuthContext
	AccountID  string
	RequestID  string
	IPAddress  string
	UserAgent  string
	OccurredAt time.Time
}

// ExternalID returns the identity behind the event, "" for anonymous failures
func (e Event) ExternalID() string {
	id, _ := e.Payload.ExternalID()
	return id
}

// UserID returns the local user id, "" when no user is attached
func (e Event) UserID() string {
	if e.User == nil {
		return ""
	}
	return e.User.IDString()
}

// Observer receives guard events synchronously, in emission order
type Observer interface {
	HandleAuthEvent(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, event Event)

// HandleAuthEvent calls f
func (f ObserverFunc) HandleAuthEvent(ctx context.Context, event Event) {
	f(ctx, event)
}
