package sqlstore

import (
	"context"

	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	columns config.UserColumns
	logger  *zap.Logger
}

// NewRepositoryFactory opens the configured database
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db, cfg.Users, logger), nil
}

// NewRepositoryFactoryFromDB builds a factory around an open pool
func NewRepositoryFactoryFromDB(db *DB, cols config.UserColumns, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, columns: cols, logger: logger}
}

// InitSchema creates the users and auth_events tables
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx, f.columns)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:      NewUserRepository(f.db, f.columns, f.logger),
		AuthEvents: NewAuthEventRepository(f.db, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
