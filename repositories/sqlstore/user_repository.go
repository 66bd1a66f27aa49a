package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/repositories"
	"github.com/upb/auth-bridge/utils"
	"go.uber.org/zap"
)

// UserRepository implements repositories.UserRepository over the configured users table
type UserRepository struct {
	db      *DB
	table   string
	idCol   string
	columns []string
	logger  *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, cols config.UserColumns, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:      db,
		table:   cols.Table,
		idCol:   cols.ModelIDColumn,
		columns: cols.Columns(),
		logger:  logger,
	}
}

// FindByColumn returns the first row whose column equals value
func (r *UserRepository) FindByColumn(ctx context.Context, column string, value any) (*models.LocalUser, error) {
	if !utils.IsIdentifier(column) {
		return nil, fmt.Errorf("invalid column name %q", column)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s LIMIT 1",
		r.selectList(), quote(r.table), quote(column), r.db.dialect.Placeholder(1))

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query user: %w", err)
		}
		return nil, repositories.ErrNotFound
	}

	attributes, err := scanRow(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return models.NewLocalUser(r.idCol, attributes), nil
}

// GetByID retrieves a user by model id
func (r *UserRepository) GetByID(ctx context.Context, id any) (*models.LocalUser, error) {
	return r.FindByColumn(ctx, r.idCol, id)
}

// Create inserts a row
func (r *UserRepository) Create(ctx context.Context, attributes map[string]any) error {
	columns, args, err := r.orderedAttributes(attributes)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("failed to create user: no attributes")
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quote(column)
		placeholders[i] = r.db.dialect.Placeholder(i + 1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(r.table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	if _, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create user: %w", repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Debug("user created", zap.Any("id", attributes[r.idCol]))
	return nil
}

// Update writes attributes to the row with the given model id
func (r *UserRepository) Update(ctx context.Context, id any, attributes map[string]any) error {
	columns, args, err := r.orderedAttributes(attributes)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}

	assignments := make([]string, len(columns))
	for i, column := range columns {
		assignments[i] = fmt.Sprintf("%s = %s", quote(column), r.db.dialect.Placeholder(i+1))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(r.table), strings.Join(assignments, ", "), quote(r.idCol), r.db.dialect.Placeholder(len(args)))

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update user: %w", repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user %v: %w", id, repositories.ErrNotFound)
	}

	r.logger.Debug("user updated", zap.Any("id", id))
	return nil
}

func (r *UserRepository) selectList() string {
	quoted := make([]string, len(r.columns))
	for i, column := range r.columns {
		quoted[i] = quote(column)
	}
	return strings.Join(quoted, ", ")
}

// orderedAttributes sorts attributes by column so generated SQL is stable
func (r *UserRepository) orderedAttributes(attributes map[string]any) ([]string, []any, error) {
	columns := make([]string, 0, len(attributes))
	for column := range attributes {
		if !utils.IsIdentifier(column) {
			return nil, nil, fmt.Errorf("invalid column name %q", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	args := make([]any, len(columns))
	for i, column := range columns {
		args[i] = attributes[column]
	}
	return columns, args, nil
}

// scanRow reads the current row into a column keyed map
func scanRow(rows *sql.Rows) (map[string]any, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(names))
	targets := make([]any, len(names))
	for i := range values {
		targets[i] = &values[i]
	}
	if err := rows.Scan(targets...); err != nil {
		return nil, err
	}

	attributes := make(map[string]any, len(names))
	for i, name := range names {
		if b, ok := values[i].([]byte); ok {
			attributes[name] = string(b)
			continue
		}
		attributes[name] = values[i]
	}
	return attributes, nil
}

// isUniqueViolation detects unique constraint errors from lib/pq and sqlite
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
