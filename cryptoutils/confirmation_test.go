package cryptoutils

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationDigest(t *testing.T) {
	blobID := interfaces.BlobID{0x01}
	objA := common.HexToHash("0xa")
	objB := common.HexToHash("0xb")

	// Permanent confirmations do not commit to the object.
	assert.Equal(t, ConfirmationDigest(blobID, false, objA), ConfirmationDigest(blobID, false, objB))
	assert.NotEqual(t, ConfirmationDigest(blobID, true, objA), ConfirmationDigest(blobID, true, objB))
	assert.NotEqual(t, ConfirmationDigest(blobID, true, objA), ConfirmationDigest(blobID, false, objA))
}

func TestVerifyConfirmation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	blobID := interfaces.BlobID{0x42}
	objectID := common.HexToHash("0x1234")
	node := interfaces.StorageNode{ID: "node-0", Address: crypto.PubkeyToAddress(key.PublicKey)}

	sign := func(t *testing.T, signer interfaces.StorageNode, deletable bool) *interfaces.NodeConfirmation {
		k := key
		if signer.ID == "other" {
			k = other
		}
		sig, err := SignConfirmation(k, blobID, deletable, objectID)
		require.NoError(t, err)
		return &interfaces.NodeConfirmation{
			NodeID:    node.ID,
			BlobID:    blobID,
			ObjectID:  objectID,
			Deletable: deletable,
			Signature: sig,
		}
	}

	testCases := []struct {
		name    string
		node    interfaces.StorageNode
		conf    *interfaces.NodeConfirmation
		wantErr error
	}{
		{
			name: "Valid permanent confirmation",
			node: node,
			conf: sign(t, node, false),
		},
		{
			name: "Valid deletable confirmation",
			node: node,
			conf: sign(t, node, true),
		},
		{
			name:    "Signed by another key",
			node:    node,
			conf:    sign(t, interfaces.StorageNode{ID: "other"}, false),
			wantErr: ErrSignerMismatch,
		},
		{
			name:    "Truncated signature",
			node:    node,
			conf:    &interfaces.NodeConfirmation{BlobID: blobID, Signature: []byte{0x01, 0x02}},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "Node without address",
			node: interfaces.StorageNode{ID: "anon"},
			conf: &interfaces.NodeConfirmation{BlobID: blobID},
		},
		{
			name:    "Missing confirmation",
			node:    node,
			wantErr: ErrInvalidSignature,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyConfirmation(tc.node, tc.conf)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVerifyConfirmation_TamperedBlob(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	node := interfaces.StorageNode{ID: "node-0", Address: crypto.PubkeyToAddress(key.PublicKey)}

	sig, err := SignConfirmation(key, interfaces.BlobID{0x01}, false, common.Hash{})
	require.NoError(t, err)

	err = VerifyConfirmation(node, &interfaces.NodeConfirmation{BlobID: interfaces.BlobID{0x02}, Signature: sig})
	assert.Error(t, err)
}
