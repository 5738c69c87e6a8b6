package storagenode

import (
	"context"

	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockNodeClient mocks the StorageNodeClient interface
type MockNodeClient struct {
	mock.Mock
}

// StoreSlivers mocks the StoreSlivers method
func (m *MockNodeClient) StoreSlivers(ctx context.Context, node interfaces.StorageNode, upload interfaces.SliverUpload) (*interfaces.NodeConfirmation, error) {
	args := m.Called(ctx, node, upload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.NodeConfirmation), args.Error(1)
}
