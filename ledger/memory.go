package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/blob-publisher/contracts"
	"github.com/ruteri/blob-publisher/cryptoutils"
	"github.com/ruteri/blob-publisher/interfaces"
)

// ErrUnknownTransaction is returned when waiting on a digest the ledger never saw.
var ErrUnknownTransaction = errors.New("unknown transaction digest")

// ExchangeModule is the module name of exchange objects created by AddExchange.
const ExchangeModule = "wal_exchange"

// MemoryLedger is an in-process ledger hosting the blob system and token
// exchanges. Transactions execute synchronously on Submit and are final
// immediately. It is used by tests and by development mode.
type MemoryLedger struct {
	mu sync.Mutex

	system    common.Address
	committee *interfaces.Committee
	epoch     uint32

	balances  map[common.Address]map[interfaces.TokenType]*big.Int
	objects   map[interfaces.ObjectID]*interfaces.LedgerObject
	exchanges map[common.Address]interfaces.TokenType
	effects   map[interfaces.TransactionDigest]*interfaces.TransactionEffects

	failures  map[interfaces.TransactionKind]string
	submitted []interfaces.Transaction
	nonce     uint64
}

// NewMemoryLedger creates an empty ledger whose blob system lives at the given package address.
func NewMemoryLedger(system common.Address) *MemoryLedger {
	return &MemoryLedger{
		system:    system,
		balances:  make(map[common.Address]map[interfaces.TokenType]*big.Int),
		objects:   make(map[interfaces.ObjectID]*interfaces.LedgerObject),
		exchanges: make(map[common.Address]interfaces.TokenType),
		effects:   make(map[interfaces.TransactionDigest]*interfaces.TransactionEffects),
		failures:  make(map[interfaces.TransactionKind]string),
	}
}

// BlobObjectType returns the type of blob objects created by this ledger.
func (m *MemoryLedger) BlobObjectType() string {
	return interfaces.BlobObjectType(m.system)
}

// SetCommittee makes certification check confirmation signatures and
// signer indices against the committee.
func (m *MemoryLedger) SetCommittee(committee *interfaces.Committee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committee = committee
}

// SetBalance sets an account balance.
func (m *MemoryLedger) SetBalance(account common.Address, token interfaces.TokenType, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(account)[normalize(token)] = new(big.Int).Set(amount)
}

// AddExchange creates an exchange object at the given package address that
// swaps gas tokens 1:1 for the payment token, and returns its object ID.
func (m *MemoryLedger) AddExchange(pkg common.Address, paymentToken interfaces.TokenType) interfaces.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextObjectID()
	m.exchanges[pkg] = normalize(paymentToken)
	m.objects[id] = &interfaces.LedgerObject{
		ID:   id,
		Type: interfaces.StructTag{Address: pkg, Module: ExchangeModule, Name: "Exchange"}.String(),
	}
	return id
}

// FailNext makes the next transaction of the given kind execute with a failure status.
func (m *MemoryLedger) FailNext(kind interfaces.TransactionKind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind] = reason
}

// Submitted returns every transaction submitted so far.
func (m *MemoryLedger) Submitted() []interfaces.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interfaces.Transaction(nil), m.submitted...)
}

// BlobObject decodes a stored blob object.
func (m *MemoryLedger) BlobObject(id interfaces.ObjectID) (*contracts.BlobObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok || obj.Type != interfaces.BlobObjectType(m.system) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, id.Hex())
	}
	return contracts.DecodeBlobObject(obj.Data)
}

// Submit executes the transaction and records its effects.
func (m *MemoryLedger) Submit(ctx context.Context, tx *interfaces.Transaction) (interfaces.TransactionDigest, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.TransactionDigest{}, err
	}
	if tx.Sender == (common.Address{}) {
		return interfaces.TransactionDigest{}, interfaces.ErrNoSigner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nonce++
	digest := crypto.Keccak256Hash(binary.BigEndian.AppendUint64(nil, m.nonce), tx.Sender.Bytes(), tx.Data)
	m.submitted = append(m.submitted, *tx)

	effects := &interfaces.TransactionEffects{Digest: digest, Status: interfaces.ExecutionSuccess}
	if reason, ok := m.failures[tx.Kind]; ok {
		delete(m.failures, tx.Kind)
		effects.Status = interfaces.ExecutionFailure
		effects.Error = reason
	} else if err := m.execute(tx, effects); err != nil {
		effects.Status = interfaces.ExecutionFailure
		effects.Error = err.Error()
		effects.CreatedObjects = nil
	}

	m.effects[digest] = effects
	return digest, nil
}

// WaitForFinality returns the recorded effects.
func (m *MemoryLedger) WaitForFinality(ctx context.Context, digest interfaces.TransactionDigest) (*interfaces.TransactionEffects, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	effects, ok := m.effects[digest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, digest.Hex())
	}
	out := *effects
	out.CreatedObjects = append([]interfaces.CreatedObject(nil), effects.CreatedObjects...)
	return &out, nil
}

// Balance returns the account's balance, zero if never set.
func (m *MemoryLedger) Balance(ctx context.Context, account interfaces.Address, token interfaces.TokenType) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balance(account, normalize(token))), nil
}

// Object returns a copy of the stored object.
func (m *MemoryLedger) Object(ctx context.Context, id interfaces.ObjectID) (*interfaces.LedgerObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, id.Hex())
	}
	out := *obj
	out.Data = append([]byte(nil), obj.Data...)
	return &out, nil
}

func (m *MemoryLedger) execute(tx *interfaces.Transaction, effects *interfaces.TransactionEffects) error {
	if tx.Target == m.system {
		switch contracts.MethodName(tx.Data) {
		case "registerBlob":
			return m.registerBlob(tx, effects)
		case "certifyBlob":
			return m.certifyBlob(tx)
		default:
			return errors.New("unknown system method")
		}
	}

	if paymentToken, ok := m.exchanges[tx.Target]; ok {
		return m.exchange(tx, paymentToken)
	}

	return m.transfer(tx.Sender, tx.Target, tx.Value)
}

func (m *MemoryLedger) registerBlob(tx *interfaces.Transaction, effects *interfaces.TransactionEffects) error {
	params, err := contracts.UnpackRegisterBlob(tx.Data)
	if err != nil {
		return err
	}
	if params.Epochs == 0 {
		return errors.New("registration requires at least one epoch")
	}

	data, err := contracts.EncodeBlobObject(contracts.BlobObject{
		BlobID:    params.BlobID,
		Owner:     params.Owner,
		Size:      params.Size,
		Deletable: params.Deletable,
		EndEpoch:  m.epoch + params.Epochs,
	})
	if err != nil {
		return err
	}

	id := m.nextObjectID()
	objectType := interfaces.BlobObjectType(m.system)
	m.objects[id] = &interfaces.LedgerObject{ID: id, Type: objectType, Data: data}
	effects.CreatedObjects = append(effects.CreatedObjects, interfaces.CreatedObject{ObjectID: id, ObjectType: objectType})
	return nil
}

func (m *MemoryLedger) certifyBlob(tx *interfaces.Transaction) error {
	params, err := contracts.UnpackCertifyBlob(tx.Data)
	if err != nil {
		return err
	}

	obj, ok := m.objects[params.ObjectID]
	if !ok || obj.Type != interfaces.BlobObjectType(m.system) {
		return fmt.Errorf("blob object %s not found", params.ObjectID.Hex())
	}

	blob, err := contracts.DecodeBlobObject(obj.Data)
	if err != nil {
		return err
	}
	if blob.BlobID != params.BlobID {
		return errors.New("blob id mismatch")
	}
	if blob.Deletable != params.Deletable {
		return errors.New("persistence mismatch")
	}
	if blob.Certified {
		return errors.New("blob already certified")
	}
	if err := m.verifySigners(params); err != nil {
		return err
	}

	blob.Certified = true
	data, err := contracts.EncodeBlobObject(*blob)
	if err != nil {
		return err
	}
	obj.Data = data
	return nil
}

func (m *MemoryLedger) verifySigners(params *contracts.CertifyBlobParams) error {
	if m.committee == nil {
		return nil
	}

	var weight uint64
	seen := make(map[uint16]struct{}, len(params.Signers))
	for i, idx := range params.Signers {
		if int(idx) >= len(m.committee.Nodes) {
			return fmt.Errorf("signer index %d out of range", idx)
		}
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("duplicate signer %d", idx)
		}
		seen[idx] = struct{}{}

		node := m.committee.Nodes[idx]
		err := cryptoutils.VerifyConfirmation(node, &interfaces.NodeConfirmation{
			BlobID:    params.BlobID,
			ObjectID:  params.ObjectID,
			Deletable: params.Deletable,
			Signature: params.Signatures[i],
		})
		if err != nil {
			return err
		}
		weight += node.Weight
	}

	if weight < m.committee.DefaultQuorum() {
		return fmt.Errorf("insufficient signer weight %d < %d", weight, m.committee.DefaultQuorum())
	}
	return nil
}

func (m *MemoryLedger) exchange(tx *interfaces.Transaction, paymentToken interfaces.TokenType) error {
	if _, err := contracts.UnpackExchangeAllForPayment(tx.Data); err != nil {
		return err
	}
	if tx.Value == nil || tx.Value.Sign() <= 0 {
		return errors.New("exchange requires a positive amount")
	}

	gas := m.balance(tx.Sender, interfaces.NativeToken)
	if gas.Cmp(tx.Value) < 0 {
		return errors.New("insufficient gas balance")
	}

	m.account(tx.Sender)[interfaces.NativeToken] = new(big.Int).Sub(gas, tx.Value)
	payment := m.balance(tx.Sender, paymentToken)
	m.account(tx.Sender)[paymentToken] = new(big.Int).Add(payment, tx.Value)
	return nil
}

func (m *MemoryLedger) transfer(from, to common.Address, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return nil
	}
	gas := m.balance(from, interfaces.NativeToken)
	if gas.Cmp(value) < 0 {
		return errors.New("insufficient gas balance")
	}
	m.account(from)[interfaces.NativeToken] = new(big.Int).Sub(gas, value)
	m.account(to)[interfaces.NativeToken] = new(big.Int).Add(m.balance(to, interfaces.NativeToken), value)
	return nil
}

func (m *MemoryLedger) account(addr common.Address) map[interfaces.TokenType]*big.Int {
	acc, ok := m.balances[addr]
	if !ok {
		acc = make(map[interfaces.TokenType]*big.Int)
		m.balances[addr] = acc
	}
	return acc
}

func (m *MemoryLedger) balance(addr common.Address, token interfaces.TokenType) *big.Int {
	if b, ok := m.balances[addr][token]; ok {
		return b
	}
	return new(big.Int)
}

func (m *MemoryLedger) nextObjectID() interfaces.ObjectID {
	m.nonce++
	return crypto.Keccak256Hash([]byte("object"), binary.BigEndian.AppendUint64(nil, m.nonce))
}

func normalize(token interfaces.TokenType) interfaces.TokenType {
	if token.IsNative() {
		return interfaces.NativeToken
	}
	return token
}
