package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/auth-bridge/config"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect selects placeholder and column type syntax
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Placeholder returns the bind parameter for the n-th argument (1-based)
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d Dialect) timestampType() string {
	if d == DialectPostgres {
		return "TIMESTAMP"
	}
	return "DATETIME"
}

// quote wraps an identifier already checked by the sqlident validator
func quote(identifier string) string {
	return `"` + identifier + `"`
}

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewDB creates a new database connection pool for the configured driver
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dialect := Dialect(cfg.Driver)
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(string(dialect), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if dialect == DialectSQLite {
		// a single writer avoids SQLITE_BUSY inside transactions
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("driver", cfg.Driver),
		zap.String("connection", cfg.LogString()))

	return Wrap(db, dialect, logger), nil
}

// Wrap adapts an already opened pool
func Wrap(db *sql.DB, dialect Dialect, logger *zap.Logger) *DB {
	return &DB{
		DB:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// Dialect returns the SQL dialect of the pool
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// SchemaStatements returns the DDL for the users table described by cols and the auth_events table
func SchemaStatements(dialect Dialect, cols config.UserColumns) []string {
	ts := dialect.timestampType()
	types := map[string]string{
		cols.ModelIDColumn:         "VARCHAR(64) PRIMARY KEY",
		cols.ExternalIDColumn:      "VARCHAR(255) NOT NULL",
		cols.NameColumn:            "VARCHAR(255)",
		cols.EmailColumn:           "VARCHAR(255)",
		cols.EmailVerifiedAtColumn: ts,
		cols.AccountIDColumn:       "VARCHAR(255)",
		cols.AccountIDsColumn:      "TEXT",
		cols.AppIDsColumn:          "TEXT",
		cols.StatusColumn:          "VARCHAR(100)",
		cols.PayloadColumn:         "TEXT",
		cols.SyncedAtColumn:        ts,
		cols.AvatarColumn:          "TEXT",
		cols.LastSeenColumn:        ts,
		cols.PasswordColumn:        "VARCHAR(255)",
	}

	defs := make([]string, 0, len(types))
	for _, column := range cols.Columns() {
		defs = append(defs, fmt.Sprintf("%s %s", quote(column), types[column]))
	}

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(cols.Table), strings.Join(defs, ",\n\t")),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote("idx_"+cols.Table+"_"+cols.ExternalIDColumn), quote(cols.Table), quote(cols.ExternalIDColumn)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS auth_events (
	id VARCHAR(36) PRIMARY KEY,
	event_type VARCHAR(32) NOT NULL,
	guard VARCHAR(100) NOT NULL,
	external_id VARCHAR(255),
	user_id VARCHAR(64),
	account_id VARCHAR(255),
	ip_address VARCHAR(45),
	user_agent TEXT,
	request_id VARCHAR(255),
	occurred_at %s NOT NULL
)`, ts),
		"CREATE INDEX IF NOT EXISTS idx_auth_events_external_id ON auth_events(external_id)",
		"CREATE INDEX IF NOT EXISTS idx_auth_events_occurred_at ON auth_events(occurred_at)",
	}
}

// InitSchema creates the users and auth_events tables when missing
func (db *DB) InitSchema(ctx context.Context, cols config.UserColumns) error {
	for _, statement := range SchemaStatements(db.dialect, cols) {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	db.logger.Info("database schema initialized successfully",
		zap.String("table", cols.Table),
		zap.Strings("columns", cols.Columns()))
	return nil
}
