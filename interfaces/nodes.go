package interfaces

import (
	"context"
	"errors"
	"fmt"
)

// StorageNode is one member of the storage committee.
type StorageNode struct {
	ID       string `json:"id" yaml:"id"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Address is the key the node signs confirmations with. A zero address
	// disables signature verification for the node.
	Address Address `json:"address" yaml:"address"`
	// Weight is the number of shards the node holds.
	Weight uint64 `json:"weight" yaml:"weight"`
}

// Committee is the ordered set of storage nodes for the current epoch.
type Committee struct {
	Nodes []StorageNode
}

// NewCommittee validates the node set and returns a committee.
// Nodes without a weight count as one shard.
func NewCommittee(nodes []StorageNode) (*Committee, error) {
	if len(nodes) == 0 {
		return nil, errors.New("committee has no storage nodes")
	}

	seen := make(map[string]struct{}, len(nodes))
	out := make([]StorageNode, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("storage node %d has no id", i)
		}
		if _, dup := seen[n.ID]; dup {
			return nil, fmt.Errorf("duplicate storage node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Weight == 0 {
			n.Weight = 1
		}
		out[i] = n
	}

	return &Committee{Nodes: out}, nil
}

// TotalWeight returns the sum of node weights.
func (c *Committee) TotalWeight() uint64 {
	var total uint64
	for _, n := range c.Nodes {
		total += n.Weight
	}
	return total
}

// DefaultQuorum returns the Byzantine quorum n - f where f = floor((n-1)/3).
func (c *Committee) DefaultQuorum() uint64 {
	total := c.TotalWeight()
	if total == 0 {
		return 0
	}
	return total - (total-1)/3
}

// Index returns the position of a node in the committee, or -1.
func (c *Committee) Index(nodeID string) int {
	for i, n := range c.Nodes {
		if n.ID == nodeID {
			return i
		}
	}
	return -1
}

// Node returns the node with the given ID.
func (c *Committee) Node(nodeID string) (StorageNode, bool) {
	if i := c.Index(nodeID); i >= 0 {
		return c.Nodes[i], true
	}
	return StorageNode{}, false
}

// NodeConfirmation is a storage node's signed acknowledgement that it stores
// its slivers of a blob.
type NodeConfirmation struct {
	NodeID    string   `json:"node_id"`
	NodeIndex uint16   `json:"node_index"`
	Weight    uint64   `json:"weight"`
	BlobID    BlobID   `json:"blob_id"`
	ObjectID  ObjectID `json:"object_id"`
	Deletable bool     `json:"deletable"`
	Signature []byte   `json:"signature"`
}

// SliverUpload is everything one node receives for one blob.
type SliverUpload struct {
	BlobID    BlobID
	ObjectID  ObjectID
	Deletable bool
	Metadata  BlobMetadata
	Slivers   []SliverPair
}

// StorageNodeClient speaks the storage node protocol.
type StorageNodeClient interface {
	// StoreSlivers sends metadata and slivers to a node and returns its confirmation.
	// The call must honour ctx cancellation.
	StoreSlivers(ctx context.Context, node StorageNode, upload SliverUpload) (*NodeConfirmation, error)
}

// BlobStatus is the lifecycle state of a blob object on the ledger.
type BlobStatus int

const (
	BlobRegistered BlobStatus = iota + 1
	BlobCertified
)

// String returns status name.
func (s BlobStatus) String() string {
	switch s {
	case BlobRegistered:
		return "registered"
	case BlobCertified:
		return "certified"
	default:
		return "unknown"
	}
}

// BlobObjectRecord is the ledger representation of a registered blob.
type BlobObjectRecord struct {
	ObjectID       ObjectID          `json:"object_id"`
	BlobID         BlobID            `json:"blob_id"`
	Owner          Address           `json:"owner"`
	Status         BlobStatus        `json:"status"`
	RegisterDigest TransactionDigest `json:"register_digest"`
	CertifyDigest  TransactionDigest `json:"certify_digest,omitempty"`
}
