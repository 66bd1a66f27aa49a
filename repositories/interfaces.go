package repositories

import (
	"context"
	"errors"

	"github.com/upb/auth-bridge/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a write violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns a context carrying the transaction.
	// Repository calls made with it run inside the transaction.
	Context() context.Context
}

// UserRepository reads and writes rows of the configured users table.
// Column names come from config.UserColumns, values are keyed by column.
type UserRepository interface {
	// FindByColumn returns the first row whose column equals value, or ErrNotFound
	FindByColumn(ctx context.Context, column string, value any) (*models.LocalUser, error)

	// GetByID retrieves a user by its model id
	GetByID(ctx context.Context, id any) (*models.LocalUser, error)

	// Create inserts a row. Unique violations return ErrDuplicate.
	Create(ctx context.Context, attributes map[string]any) error

	// Update writes attributes to the row with the given model id
	Update(ctx context.Context, id any, attributes map[string]any) error
}

// AuthEventRepository persists guard events
type AuthEventRepository interface {
	// Insert inserts a new event
	Insert(ctx context.Context, event *models.AuthEvent) error

	// ListByExternalID returns the latest events for an identity, newest first
	ListByExternalID(ctx context.Context, externalID string, limit int) ([]*models.AuthEvent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users      UserRepository
	AuthEvents AuthEventRepository
}
