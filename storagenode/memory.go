package storagenode

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/blob-publisher/cryptoutils"
	"github.com/ruteri/blob-publisher/interfaces"
)

// ErrNodeUnavailable is returned by MemoryNetwork for nodes marked down.
var ErrNodeUnavailable = errors.New("storage node unavailable")

// MemoryNetwork simulates a committee of storage nodes in process. Each node
// holds its own signing key and stores the slivers it receives.
type MemoryNetwork struct {
	mu     sync.Mutex
	keys   map[string]*ecdsa.PrivateKey
	stored map[string]map[interfaces.BlobID][]interfaces.SliverPair
	down   map[string]struct{}
	delay  map[string]time.Duration
	calls  map[string]int
}

// NewMemoryNetwork creates n nodes with fresh keys and returns them along
// with the network that serves them.
func NewMemoryNetwork(n int) (*MemoryNetwork, []interfaces.StorageNode, error) {
	net := &MemoryNetwork{
		keys:   make(map[string]*ecdsa.PrivateKey, n),
		stored: make(map[string]map[interfaces.BlobID][]interfaces.SliverPair, n),
		down:   make(map[string]struct{}),
		delay:  make(map[string]time.Duration),
		calls:  make(map[string]int),
	}

	nodes := make([]interfaces.StorageNode, n)
	for i := range nodes {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, nil, err
		}
		id := fmt.Sprintf("node-%d", i)
		net.keys[id] = key
		net.stored[id] = make(map[interfaces.BlobID][]interfaces.SliverPair)
		nodes[i] = interfaces.StorageNode{
			ID:       id,
			Endpoint: "memory://" + id,
			Address:  crypto.PubkeyToAddress(key.PublicKey),
			Weight:   1,
		}
	}

	return net, nodes, nil
}

// SetDown marks a node as failing every request.
func (n *MemoryNetwork) SetDown(nodeID string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if down {
		n.down[nodeID] = struct{}{}
	} else {
		delete(n.down, nodeID)
	}
}

// SetDelay makes a node take d before answering.
func (n *MemoryNetwork) SetDelay(nodeID string, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay[nodeID] = d
}

// Calls returns how many StoreSlivers calls reached the node.
func (n *MemoryNetwork) Calls(nodeID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[nodeID]
}

// Stored returns the slivers a node holds for a blob.
func (n *MemoryNetwork) Stored(nodeID string, blobID interfaces.BlobID) []interfaces.SliverPair {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stored[nodeID][blobID]
}

// StoreSlivers implements interfaces.StorageNodeClient.
func (n *MemoryNetwork) StoreSlivers(ctx context.Context, node interfaces.StorageNode, upload interfaces.SliverUpload) (*interfaces.NodeConfirmation, error) {
	n.mu.Lock()
	n.calls[node.ID]++
	key, known := n.keys[node.ID]
	_, down := n.down[node.ID]
	delay := n.delay[node.ID]
	n.mu.Unlock()

	if !known {
		return nil, fmt.Errorf("%w: unknown node %s", ErrNodeUnavailable, node.ID)
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if down {
		return nil, fmt.Errorf("%w: %s", ErrNodeUnavailable, node.ID)
	}

	signature, err := cryptoutils.SignConfirmation(key, upload.BlobID, upload.Deletable, upload.ObjectID)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.stored[node.ID][upload.BlobID] = upload.Slivers
	n.mu.Unlock()

	return &interfaces.NodeConfirmation{
		NodeID:    node.ID,
		BlobID:    upload.BlobID,
		ObjectID:  upload.ObjectID,
		Deletable: upload.Deletable,
		Signature: signature,
	}, nil
}
