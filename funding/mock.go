package funding

import (
	"context"

	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockFaucet mocks the Faucet interface
type MockFaucet struct {
	mock.Mock
}

// RequestFunds mocks the RequestFunds method
func (m *MockFaucet) RequestFunds(ctx context.Context, recipient interfaces.Address) error {
	args := m.Called(ctx, recipient)
	return args.Error(0)
}
