package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/blob-publisher/cryptoutils"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func distributeRequest(encoded *interfaces.EncodedBlob, record *interfaces.BlobObjectRecord, deletable bool) DistributeRequest {
	return DistributeRequest{
		BlobID:        encoded.BlobID,
		Metadata:      encoded.Metadata,
		SliversByNode: encoded.SliversByNode,
		ObjectID:      record.ObjectID,
		Deletable:     deletable,
	}
}

// tamperingClient rewrites the confirmations of selected nodes.
type tamperingClient struct {
	next   interfaces.StorageNodeClient
	tamper map[string]func(*interfaces.NodeConfirmation)
}

func (c *tamperingClient) StoreSlivers(ctx context.Context, node interfaces.StorageNode, upload interfaces.SliverUpload) (*interfaces.NodeConfirmation, error) {
	conf, err := c.next.StoreSlivers(ctx, node, upload)
	if err != nil {
		return nil, err
	}
	if fn, ok := c.tamper[node.ID]; ok {
		fn(conf)
	}
	return conf, nil
}

// concurrencyProbe records the highest number of requests in flight.
type concurrencyProbe struct {
	next interfaces.StorageNodeClient

	mu       sync.Mutex
	inFlight int
	max      int
}

func (c *concurrencyProbe) StoreSlivers(ctx context.Context, node interfaces.StorageNode, upload interfaces.SliverUpload) (*interfaces.NodeConfirmation, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.max {
		c.max = c.inFlight
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	time.Sleep(10 * time.Millisecond)
	return c.next.StoreSlivers(ctx, node, upload)
}

func TestDistribute_AllNodesConfirm(t *testing.T) {
	for _, deletable := range []bool{false, true} {
		env := newTestEnv(t, 4)
		encoded, record := env.register(t, []byte("every node confirms"), deletable)

		set, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
			Distribute(context.Background(), distributeRequest(encoded, record, deletable))
		require.NoError(t, err)

		assert.True(t, set.HasQuorum())
		assert.Equal(t, uint64(4), set.Weight)
		assert.Equal(t, uint64(3), set.Quorum)
		assert.Empty(t, set.Failures)
		require.Len(t, set.Confirmations, 4)

		for i, conf := range set.Confirmations {
			node := env.committee.Nodes[i]
			assert.Equal(t, uint16(i), conf.NodeIndex)
			assert.Equal(t, node.ID, conf.NodeID)
			assert.Equal(t, deletable, conf.Deletable)
			assert.NoError(t, cryptoutils.VerifyConfirmation(node, &conf))
			assert.Equal(t, encoded.SliversByNode[node.ID], env.network.Stored(node.ID, encoded.BlobID))
		}
	}
}

func TestDistribute_ToleratesMinorityFailures(t *testing.T) {
	env := newTestEnv(t, 4)
	encoded, record := env.register(t, []byte("one node down"), false)
	env.network.SetDown("node-2", true)

	set, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
		Distribute(context.Background(), distributeRequest(encoded, record, false))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), set.Weight)
	require.Len(t, set.Failures, 1)
	assert.Equal(t, "node-2", set.Failures[0].NodeID)
	for _, conf := range set.Confirmations {
		assert.NotEqual(t, "node-2", conf.NodeID)
	}
}

func TestDistribute_QuorumNotReached(t *testing.T) {
	env := newTestEnv(t, 4)
	encoded, record := env.register(t, []byte("two nodes down"), false)
	env.network.SetDown("node-0", true)
	env.network.SetDown("node-3", true)

	set, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
		Distribute(context.Background(), distributeRequest(encoded, record, false))
	require.Error(t, err)
	assert.Nil(t, set)

	assert.ErrorIs(t, err, ErrQuorumNotReached)
	assert.False(t, errors.Is(err, ErrDistributionTimeout))

	var qerr *QuorumError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, uint64(3), qerr.Required)
	assert.Equal(t, uint64(2), qerr.Confirmed)
	assert.Len(t, qerr.Failures, 2)
}

func TestDistribute_Deadline(t *testing.T) {
	env := newTestEnv(t, 4)
	env.cfg.DistributionDeadline = 100 * time.Millisecond
	encoded, record := env.register(t, []byte("slow network"), false)
	for _, node := range env.nodes {
		env.network.SetDelay(node.ID, 5*time.Second)
	}

	start := time.Now()
	_, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
		Distribute(context.Background(), distributeRequest(encoded, record, false))
	require.Error(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, ErrDistributionTimeout)
	assert.ErrorIs(t, err, ErrQuorumNotReached)
}

func TestDistribute_NodeTimeout(t *testing.T) {
	env := newTestEnv(t, 4)
	env.cfg.NodeTimeout = 50 * time.Millisecond
	encoded, record := env.register(t, []byte("one slow node"), false)
	env.network.SetDelay("node-1", 5*time.Second)

	set, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
		Distribute(context.Background(), distributeRequest(encoded, record, false))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), set.Weight)
	require.Len(t, set.Failures, 1)
	assert.Equal(t, "node-1", set.Failures[0].NodeID)
}

func TestDistribute_QuorumGrace(t *testing.T) {
	env := newTestEnv(t, 4)
	env.cfg.NodeTimeout = 10 * time.Second
	env.cfg.DistributionDeadline = 10 * time.Second
	env.cfg.QuorumGrace = 50 * time.Millisecond
	encoded, record := env.register(t, []byte("straggler"), false)
	env.network.SetDelay("node-3", 5*time.Second)

	start := time.Now()
	set, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
		Distribute(context.Background(), distributeRequest(encoded, record, false))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, uint64(3), set.Weight)
	assert.Len(t, set.Confirmations, 3)
}

func TestDistribute_RejectsInvalidConfirmations(t *testing.T) {
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name   string
		tamper func(env *testEnv, conf *interfaces.NodeConfirmation)
	}{
		{
			name: "signature by another key",
			tamper: func(env *testEnv, conf *interfaces.NodeConfirmation) {
				sig, err := cryptoutils.SignConfirmation(otherKey, conf.BlobID, conf.Deletable, conf.ObjectID)
				require.NoError(t, err)
				conf.Signature = sig
			},
		},
		{
			name: "garbage signature",
			tamper: func(env *testEnv, conf *interfaces.NodeConfirmation) {
				conf.Signature = []byte{1, 2, 3}
			},
		},
		{
			name: "other blob",
			tamper: func(env *testEnv, conf *interfaces.NodeConfirmation) {
				conf.BlobID[0] ^= 0xff
			},
		},
		{
			name: "other object",
			tamper: func(env *testEnv, conf *interfaces.NodeConfirmation) {
				conf.ObjectID[0] ^= 0xff
			},
		},
		{
			name: "persistence mismatch",
			tamper: func(env *testEnv, conf *interfaces.NodeConfirmation) {
				conf.Deletable = false
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 4)
			encoded, record := env.register(t, []byte("tampered"), true)

			client := &tamperingClient{
				next: env.network,
				tamper: map[string]func(*interfaces.NodeConfirmation){
					"node-1": func(conf *interfaces.NodeConfirmation) { tt.tamper(env, conf) },
				},
			}

			set, err := NewDistributor(env.committee, client, env.cfg, testLog).
				Distribute(context.Background(), distributeRequest(encoded, record, true))
			require.NoError(t, err)

			assert.Equal(t, uint64(3), set.Weight)
			require.Len(t, set.Failures, 1)
			assert.Equal(t, "node-1", set.Failures[0].NodeID)
		})
	}
}

func TestDistribute_DrainBufferedResults(t *testing.T) {
	env := newTestEnv(t, 4)
	encoded, record := env.register(t, []byte("buffered at the deadline"), false)
	req := distributeRequest(encoded, record, false)

	d := NewDistributor(env.committee, env.network, env.cfg, testLog)
	results := make(chan nodeResult, len(env.committee.Nodes))
	for i := range env.committee.Nodes {
		results <- d.send(context.Background(), i, req)
	}

	set := &ConfirmationSet{
		BlobID:    req.BlobID,
		ObjectID:  req.ObjectID,
		Deletable: req.Deletable,
		Quorum:    env.cfg.Quorum(env.committee),
	}
	d.drain(set, results)

	assert.True(t, set.HasQuorum())
	assert.Len(t, set.Confirmations, len(env.committee.Nodes))
	assert.Empty(t, set.Failures)

	// Returns immediately on an empty open channel.
	d.drain(set, results)
	assert.Len(t, set.Confirmations, len(env.committee.Nodes))
}

func TestDistribute_ConcurrencyLimit(t *testing.T) {
	env := newTestEnv(t, 7)
	env.cfg.MaxConcurrentNodes = 2
	encoded, record := env.register(t, []byte("bounded fan-out"), false)

	probe := &concurrencyProbe{next: env.network}
	set, err := NewDistributor(env.committee, probe, env.cfg, testLog).
		Distribute(context.Background(), distributeRequest(encoded, record, false))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), set.Weight)
	assert.Equal(t, uint64(5), set.Quorum)
	assert.LessOrEqual(t, probe.max, 2)
	for _, node := range env.nodes {
		assert.Equal(t, 1, env.network.Calls(node.ID))
	}
}

func TestDistribute_ParentCancelled(t *testing.T) {
	env := newTestEnv(t, 4)
	encoded, record := env.register(t, []byte("cancelled"), false)
	for _, node := range env.nodes {
		env.network.SetDelay(node.ID, 5*time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
		Distribute(ctx, distributeRequest(encoded, record, false))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrQuorumNotReached))
}

func TestDistribute_UnreachableQuorum(t *testing.T) {
	env := newTestEnv(t, 4)
	env.cfg.QuorumThreshold = 5
	encoded, record := env.register(t, []byte("unreachable"), false)

	_, err := NewDistributor(env.committee, env.network, env.cfg, testLog).
		Distribute(context.Background(), distributeRequest(encoded, record, false))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	for _, node := range env.nodes {
		assert.Zero(t, env.network.Calls(node.ID))
	}
}
