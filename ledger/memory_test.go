package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/blob-publisher/contracts"
	"github.com/ruteri/blob-publisher/cryptoutils"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = common.HexToAddress("0x000000000000000000000000000000000000aaaa")

func register(t *testing.T, m *MemoryLedger, blobID interfaces.BlobID, deletable bool) interfaces.ObjectID {
	data, err := contracts.PackRegisterBlob(contracts.RegisterBlobParams{
		BlobID:       blobID,
		Size:         25,
		EncodingType: interfaces.RedStuffEncoding,
		Deletable:    deletable,
		Epochs:       2,
		Owner:        owner,
	})
	require.NoError(t, err)

	digest, err := m.Submit(context.Background(), &interfaces.Transaction{
		Kind: interfaces.RegisterBlobTx, Sender: owner, Target: systemAddr, Data: data,
	})
	require.NoError(t, err)

	effects, err := m.WaitForFinality(context.Background(), digest)
	require.NoError(t, err)
	require.True(t, effects.Succeeded(), effects.Error)

	created, ok := effects.FindCreated(m.BlobObjectType())
	require.True(t, ok)
	return created.ObjectID
}

func certify(t *testing.T, m *MemoryLedger, params contracts.CertifyBlobParams) *interfaces.TransactionEffects {
	data, err := contracts.PackCertifyBlob(params)
	require.NoError(t, err)

	digest, err := m.Submit(context.Background(), &interfaces.Transaction{
		Kind: interfaces.CertifyBlobTx, Sender: owner, Target: systemAddr, Data: data,
	})
	require.NoError(t, err)

	effects, err := m.WaitForFinality(context.Background(), digest)
	require.NoError(t, err)
	return effects
}

func TestMemoryLedger_RegisterAndCertify(t *testing.T) {
	m := NewMemoryLedger(systemAddr)
	blobID := interfaces.BlobID{0x01}

	objectID := register(t, m, blobID, false)

	blob, err := m.BlobObject(objectID)
	require.NoError(t, err)
	assert.Equal(t, blobID, blob.BlobID)
	assert.Equal(t, owner, blob.Owner)
	assert.Equal(t, uint32(2), blob.EndEpoch)
	assert.False(t, blob.Certified)

	effects := certify(t, m, contracts.CertifyBlobParams{ObjectID: objectID, BlobID: interfaces.BlobID{0x02}})
	assert.False(t, effects.Succeeded(), "blob id mismatch must fail")

	effects = certify(t, m, contracts.CertifyBlobParams{ObjectID: objectID, BlobID: blobID})
	require.True(t, effects.Succeeded(), effects.Error)

	blob, err = m.BlobObject(objectID)
	require.NoError(t, err)
	assert.True(t, blob.Certified)

	effects = certify(t, m, contracts.CertifyBlobParams{ObjectID: objectID, BlobID: blobID})
	assert.False(t, effects.Succeeded(), "double certification must fail")

	obj, err := m.Object(context.Background(), objectID)
	require.NoError(t, err)
	assert.Equal(t, m.BlobObjectType(), obj.Type)
}

func TestMemoryLedger_CertifyChecksCommittee(t *testing.T) {
	keys := make([]*ecdsa.PrivateKey, 4)
	nodes := make([]interfaces.StorageNode, 4)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
		nodes[i] = interfaces.StorageNode{ID: string(rune('a' + i)), Address: crypto.PubkeyToAddress(key.PublicKey)}
	}
	committee, err := interfaces.NewCommittee(nodes)
	require.NoError(t, err)

	m := NewMemoryLedger(systemAddr)
	m.SetCommittee(committee)

	blobID := interfaces.BlobID{0x09}
	objectID := register(t, m, blobID, true)

	sign := func(indices ...uint16) contracts.CertifyBlobParams {
		params := contracts.CertifyBlobParams{ObjectID: objectID, BlobID: blobID, Deletable: true}
		for _, idx := range indices {
			sig, err := cryptoutils.SignConfirmation(keys[idx], blobID, true, objectID)
			require.NoError(t, err)
			params.Signers = append(params.Signers, idx)
			params.Signatures = append(params.Signatures, sig)
		}
		return params
	}

	// Quorum of four unit-weight nodes is three.
	assert.False(t, certify(t, m, sign(0, 1)).Succeeded())
	assert.False(t, certify(t, m, sign(0, 0, 1)).Succeeded())

	forged := sign(0, 1, 2)
	forged.Signatures[2] = forged.Signatures[0]
	assert.False(t, certify(t, m, forged).Succeeded())

	assert.True(t, certify(t, m, sign(0, 2, 3)).Succeeded())
}

func TestMemoryLedger_Exchange(t *testing.T) {
	m := NewMemoryLedger(systemAddr)
	payment := interfaces.TokenType("0x0000000000000000000000000000000000000e0e::wal::WAL")
	exchangePkg := common.HexToAddress("0x0000000000000000000000000000000000000e1e")
	exchangeID := m.AddExchange(exchangePkg, payment)
	m.SetBalance(owner, interfaces.NativeToken, big.NewInt(1000))

	obj, err := m.Object(context.Background(), exchangeID)
	require.NoError(t, err)
	tag, err := interfaces.ParseStructTag(obj.Type)
	require.NoError(t, err)
	assert.Equal(t, exchangePkg, tag.Address)

	data, err := contracts.PackExchangeAllForPayment(exchangeID)
	require.NoError(t, err)

	digest, err := m.Submit(context.Background(), &interfaces.Transaction{
		Kind: interfaces.ExchangeTokenTx, Sender: owner, Target: exchangePkg, Data: data, Value: big.NewInt(400),
	})
	require.NoError(t, err)
	effects, err := m.WaitForFinality(context.Background(), digest)
	require.NoError(t, err)
	require.True(t, effects.Succeeded(), effects.Error)

	gas, err := m.Balance(context.Background(), owner, "")
	require.NoError(t, err)
	assert.Equal(t, int64(600), gas.Int64())

	wal, err := m.Balance(context.Background(), owner, payment)
	require.NoError(t, err)
	assert.Equal(t, int64(400), wal.Int64())

	digest, err = m.Submit(context.Background(), &interfaces.Transaction{
		Kind: interfaces.ExchangeTokenTx, Sender: owner, Target: exchangePkg, Data: data, Value: big.NewInt(5000),
	})
	require.NoError(t, err)
	effects, err = m.WaitForFinality(context.Background(), digest)
	require.NoError(t, err)
	assert.False(t, effects.Succeeded())
}

func TestMemoryLedger_FailNext(t *testing.T) {
	m := NewMemoryLedger(systemAddr)
	m.FailNext(interfaces.RegisterBlobTx, "out of gas")

	data, err := contracts.PackRegisterBlob(contracts.RegisterBlobParams{Epochs: 1, Owner: owner})
	require.NoError(t, err)
	tx := &interfaces.Transaction{Kind: interfaces.RegisterBlobTx, Sender: owner, Target: systemAddr, Data: data}

	digest, err := m.Submit(context.Background(), tx)
	require.NoError(t, err)
	effects, err := m.WaitForFinality(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ExecutionFailure, effects.Status)
	assert.Equal(t, "out of gas", effects.Error)
	assert.Empty(t, effects.CreatedObjects)

	// Only the next transaction fails.
	digest, err = m.Submit(context.Background(), tx)
	require.NoError(t, err)
	effects, err = m.WaitForFinality(context.Background(), digest)
	require.NoError(t, err)
	assert.True(t, effects.Succeeded())

	assert.Len(t, m.Submitted(), 2)
}

func TestMemoryLedger_Errors(t *testing.T) {
	m := NewMemoryLedger(systemAddr)
	ctx := context.Background()

	_, err := m.Submit(ctx, &interfaces.Transaction{Target: systemAddr})
	assert.ErrorIs(t, err, interfaces.ErrNoSigner)

	_, err = m.WaitForFinality(ctx, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrUnknownTransaction)

	_, err = m.Object(ctx, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	balance, err := m.Balance(ctx, owner, interfaces.NativeToken)
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())
}
