package ledger

import (
	"context"
	"math/big"

	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the LedgerClient interface
type MockLedger struct {
	mock.Mock
}

// Submit mocks the Submit method
func (m *MockLedger) Submit(ctx context.Context, tx *interfaces.Transaction) (interfaces.TransactionDigest, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(interfaces.TransactionDigest), args.Error(1)
}

// WaitForFinality mocks the WaitForFinality method
func (m *MockLedger) WaitForFinality(ctx context.Context, digest interfaces.TransactionDigest) (*interfaces.TransactionEffects, error) {
	args := m.Called(ctx, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.TransactionEffects), args.Error(1)
}

// Balance mocks the Balance method
func (m *MockLedger) Balance(ctx context.Context, account interfaces.Address, token interfaces.TokenType) (*big.Int, error) {
	args := m.Called(ctx, account, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

// Object mocks the Object method
func (m *MockLedger) Object(ctx context.Context, id interfaces.ObjectID) (*interfaces.LedgerObject, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.LedgerObject), args.Error(1)
}
