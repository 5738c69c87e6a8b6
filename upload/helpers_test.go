package upload

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/blob-publisher/encoder"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/ledger"
	"github.com/ruteri/blob-publisher/storagenode"
	"github.com/stretchr/testify/require"
)

var (
	systemPkg = common.HexToAddress("0x0000000000000000000000000000000000005157")
	owner     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	testLog   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// testEnv is a complete in-memory network: ledger, committee, nodes and encoder.
type testEnv struct {
	cfg       Config
	ledger    *ledger.MemoryLedger
	network   *storagenode.MemoryNetwork
	nodes     []interfaces.StorageNode
	committee *interfaces.Committee
	encoder   *encoder.DevEncoder
}

func newTestEnv(t *testing.T, nodeCount int) *testEnv {
	t.Helper()

	network, nodes, err := storagenode.NewMemoryNetwork(nodeCount)
	require.NoError(t, err)

	committee, err := interfaces.NewCommittee(nodes)
	require.NoError(t, err)

	enc, err := encoder.NewDevEncoder(committee)
	require.NoError(t, err)

	mem := ledger.NewMemoryLedger(systemPkg)
	mem.SetCommittee(committee)
	mem.SetBalance(owner, interfaces.NativeToken, big.NewInt(1_000_000))

	return &testEnv{
		cfg: Config{
			SystemPackage:        systemPkg,
			NodeTimeout:          time.Second,
			DistributionDeadline: 2 * time.Second,
			VerifyCertified:      true,
		},
		ledger:    mem,
		network:   network,
		nodes:     nodes,
		committee: committee,
		encoder:   enc,
	}
}

func (e *testEnv) orchestrator(t *testing.T, nodes interfaces.StorageNodeClient, funds FundsProvisioner) *Orchestrator {
	t.Helper()
	if nodes == nil {
		nodes = e.network
	}
	o, err := NewOrchestrator(e.cfg, e.committee, e.ledger, e.encoder, nodes, funds, testLog)
	require.NoError(t, err)
	return o
}

// register encodes and registers data, returning the encoded blob and its record.
func (e *testEnv) register(t *testing.T, data []byte, deletable bool) (*interfaces.EncodedBlob, *interfaces.BlobObjectRecord) {
	t.Helper()

	encoded, err := e.encoder.Encode(context.Background(), data)
	require.NoError(t, err)

	record, err := NewRegistrar(e.ledger, e.cfg, testLog).Register(context.Background(), encoded, RegisterOptions{
		Owner:     owner,
		Deletable: deletable,
		Epochs:    DefaultEpochs,
	})
	require.NoError(t, err)
	return encoded, record
}

func (e *testEnv) submittedKinds() []interfaces.TransactionKind {
	var kinds []interfaces.TransactionKind
	for _, tx := range e.ledger.Submitted() {
		kinds = append(kinds, tx.Kind)
	}
	return kinds
}

func collectEvents(run *Run) []Event {
	var events []Event
	for ev := range run.Events() {
		events = append(events, ev)
	}
	return events
}

func phases(events []Event) []Phase {
	out := make([]Phase, len(events))
	for i, ev := range events {
		out[i] = ev.Phase
	}
	return out
}
