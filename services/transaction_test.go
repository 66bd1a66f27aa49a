package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-bridge/repositories"
)

// MockTransactionManager is a mock implementation of TransactionManager
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(repositories.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

// MockTransaction is a mock implementation of Transaction
type MockTransaction struct {
	mock.Mock
	committed  bool
	rolledback bool
}

func (m *MockTransaction) Commit() error {
	args := m.Called()
	m.committed = true
	return args.Error(0)
}

func (m *MockTransaction) Rollback() error {
	args := m.Called()
	m.rolledback = true
	return args.Error(0)
}

func (m *MockTransaction) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

type txKey struct{}

func newMocks(ctx context.Context) (*MockTransactionManager, *MockTransaction, context.Context) {
	txMgr := new(MockTransactionManager)
	tx := new(MockTransaction)
	txCtx := context.WithValue(ctx, txKey{}, "tx")
	txMgr.On("Begin", ctx).Return(tx, nil)
	tx.On("Context").Return(txCtx)
	return txMgr, tx, txCtx
}

func TestWithTransaction_Success(t *testing.T) {
	ctx := context.Background()
	txMgr, tx, txCtx := newMocks(ctx)
	tx.On("Commit").Return(nil)

	var seen context.Context
	err := WithTransaction(ctx, txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		seen = ctx
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, txCtx, seen)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledback)
	txMgr.AssertExpectations(t)
	tx.AssertExpectations(t)
}

func TestWithTransaction_Failures(t *testing.T) {
	operationErr := errors.New("operation failed")

	tests := []struct {
		name        string
		fnErr       error
		commitErr   error
		rollbackErr error
		contains    string
		rolledback  bool
	}{
		{name: "function error rolls back", fnErr: operationErr, rolledback: true},
		{name: "rollback error is reported", fnErr: operationErr, rollbackErr: errors.New("rollback failed"), contains: "rollback error", rolledback: true},
		{name: "commit error", commitErr: errors.New("commit failed"), contains: "failed to commit transaction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			txMgr, tx, _ := newMocks(ctx)
			if tt.fnErr != nil {
				tx.On("Rollback").Return(tt.rollbackErr)
			} else {
				tx.On("Commit").Return(tt.commitErr)
			}

			err := WithTransaction(ctx, txMgr, func(context.Context, repositories.Transaction) error {
				return tt.fnErr
			})

			require.Error(t, err)
			if tt.fnErr != nil {
				assert.ErrorIs(t, err, tt.fnErr)
			}
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
			assert.Equal(t, tt.rolledback, tx.rolledback)
			tx.AssertExpectations(t)
		})
	}
}

func TestWithTransaction_BeginError(t *testing.T) {
	ctx := context.Background()
	txMgr := new(MockTransactionManager)
	txMgr.On("Begin", ctx).Return(nil, errors.New("pool exhausted"))

	called := false
	err := WithTransaction(ctx, txMgr, func(context.Context, repositories.Transaction) error {
		called = true
		return nil
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	assert.False(t, called)
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	txMgr, tx, _ := newMocks(ctx)
	tx.On("Rollback").Return(nil)

	assert.Panics(t, func() {
		_ = WithTransaction(ctx, txMgr, func(context.Context, repositories.Transaction) error {
			panic("boom")
		})
	})
	assert.True(t, tx.rolledback)
}

func TestWithTransactionResult(t *testing.T) {
	ctx := context.Background()
	txMgr, tx, _ := newMocks(ctx)
	tx.On("Commit").Return(nil)

	result, err := WithTransactionResult(ctx, txMgr, func(context.Context, repositories.Transaction) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.True(t, tx.committed)
}
