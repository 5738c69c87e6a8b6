package interfaces

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrObjectNotFound is returned when a ledger object lookup finds nothing.
	ErrObjectNotFound = errors.New("ledger object not found")

	// ErrNoSigner is returned when a transaction is submitted through a
	// read-only ledger client.
	ErrNoSigner = errors.New("no authorized signer available")

	// ErrExecutionReverted is returned by Submit when the ledger rejects a
	// transaction because its execution would revert.
	ErrExecutionReverted = errors.New("execution reverted")
)

// TransactionDigest identifies a submitted transaction.
type TransactionDigest = common.Hash

// TransactionKind labels a transaction for logging and for ledgers that
// dispatch on it.
type TransactionKind string

const (
	RegisterBlobTx  TransactionKind = "register_blob"
	CertifyBlobTx   TransactionKind = "certify_blob"
	ExchangeTokenTx TransactionKind = "exchange_for_payment"
)

// Transaction is an unsigned call against a ledger package or contract.
// Signing and gas selection are the ledger client's responsibility.
type Transaction struct {
	Kind   TransactionKind
	Sender Address
	Target Address
	// Data is the ABI-encoded call.
	Data []byte
	// Value is the amount of gas token attached to the call, nil for none.
	Value *big.Int
}

// ExecutionStatus is the ledger-reported outcome of a transaction.
type ExecutionStatus int

const (
	ExecutionUnknown ExecutionStatus = iota
	ExecutionSuccess
	ExecutionFailure
)

// String returns status name.
func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionSuccess:
		return "success"
	case ExecutionFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// CreatedObject is one object-creation effect of a transaction.
type CreatedObject struct {
	ObjectID   ObjectID
	ObjectType string
}

// TransactionEffects is the finalized outcome of a transaction.
type TransactionEffects struct {
	Digest         TransactionDigest
	Status         ExecutionStatus
	Error          string
	CreatedObjects []CreatedObject
}

// Succeeded reports whether the transaction executed successfully.
func (e *TransactionEffects) Succeeded() bool {
	return e != nil && e.Status == ExecutionSuccess
}

// FindCreated returns the first created object with the given type.
func (e *TransactionEffects) FindCreated(objectType string) (CreatedObject, bool) {
	if e == nil {
		return CreatedObject{}, false
	}
	for _, obj := range e.CreatedObjects {
		if obj.ObjectType == objectType {
			return obj, true
		}
	}
	return CreatedObject{}, false
}

// LedgerObject is an object as read from the ledger.
type LedgerObject struct {
	ID   ObjectID
	Type string
	Data []byte
}

// LedgerClient submits signed transactions and reads ledger state.
type LedgerClient interface {
	// Submit signs and submits a transaction, returning its digest.
	Submit(ctx context.Context, tx *Transaction) (TransactionDigest, error)

	// WaitForFinality blocks until the transaction is final and returns its effects.
	WaitForFinality(ctx context.Context, digest TransactionDigest) (*TransactionEffects, error)

	// Balance returns the account's balance of the given token.
	Balance(ctx context.Context, account Address, token TokenType) (*big.Int, error)

	// Object reads an object by ID. Returns ErrObjectNotFound if it does not exist.
	Object(ctx context.Context, id ObjectID) (*LedgerObject, error)
}

// Faucet requests gas tokens on development and test networks.
type Faucet interface {
	// RequestFunds blocks until the faucet acknowledged the request.
	RequestFunds(ctx context.Context, recipient Address) error
}
