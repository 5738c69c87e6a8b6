package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/blob-publisher/interfaces"
)

// confirmationDomain separates storage confirmations from any other message
// signed with a node key.
var confirmationDomain = []byte("blob-confirmation")

// Persistence markers included in the confirmation digest.
const (
	PersistencePermanent byte = 0
	PersistenceDeletable byte = 1
)

var (
	// ErrInvalidSignature is returned when a confirmation signature is malformed.
	ErrInvalidSignature = errors.New("invalid confirmation signature")

	// ErrSignerMismatch is returned when a confirmation was signed by a key
	// other than the node's registered address.
	ErrSignerMismatch = errors.New("confirmation signer does not match node address")
)

// ConfirmationDigest returns the message a storage node signs to confirm it
// holds its slivers of a blob. The object ID only binds deletable blobs.
func ConfirmationDigest(blobID interfaces.BlobID, deletable bool, objectID interfaces.ObjectID) common.Hash {
	persistence := PersistencePermanent
	var object []byte
	if deletable {
		persistence = PersistenceDeletable
		object = objectID.Bytes()
	}

	return crypto.Keccak256Hash(confirmationDomain, blobID.Bytes(), []byte{persistence}, object)
}

// SignConfirmation signs a confirmation digest with a node key.
func SignConfirmation(key *ecdsa.PrivateKey, blobID interfaces.BlobID, deletable bool, objectID interfaces.ObjectID) ([]byte, error) {
	digest := ConfirmationDigest(blobID, deletable, objectID)
	return crypto.Sign(digest.Bytes(), key)
}

// RecoverConfirmationSigner returns the address that produced the signature.
func RecoverConfirmationSigner(signature []byte, blobID interfaces.BlobID, deletable bool, objectID interfaces.ObjectID) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}

	digest := ConfirmationDigest(blobID, deletable, objectID)
	pubkey, err := crypto.SigToPub(digest.Bytes(), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*pubkey), nil
}

// VerifyConfirmation checks that a node confirmation was signed by the node's
// registered address. Nodes without an address are accepted as-is.
func VerifyConfirmation(node interfaces.StorageNode, conf *interfaces.NodeConfirmation) error {
	if conf == nil {
		return fmt.Errorf("%w: missing confirmation", ErrInvalidSignature)
	}
	if node.Address == (common.Address{}) {
		return nil
	}

	signer, err := RecoverConfirmationSigner(conf.Signature, conf.BlobID, conf.Deletable, conf.ObjectID)
	if err != nil {
		return err
	}
	if signer != node.Address {
		return fmt.Errorf("%w: node %s signed by %s", ErrSignerMismatch, node.ID, signer.Hex())
	}

	return nil
}
