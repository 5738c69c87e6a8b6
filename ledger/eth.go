package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/blob-publisher/contracts"
	"github.com/ruteri/blob-publisher/interfaces"
)

// DefaultPollInterval is how often finality waits poll for a receipt.
const DefaultPollInterval = 500 * time.Millisecond

// Backend is the subset of an Ethereum JSON-RPC client used by EthLedger.
// Both *ethclient.Client and the simulated backend's client satisfy it.
type Backend interface {
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.PendingStateReader
	ethereum.TransactionReader
	ethereum.TransactionSender
}

// EthLedger implements interfaces.LedgerClient against an EVM chain hosting
// the blob system contract.
type EthLedger struct {
	backend      Backend
	system       common.Address
	auth         *bind.TransactOpts
	pollInterval time.Duration
	log          *slog.Logger
}

// NewEthLedger creates a ledger client for the system contract at the given address.
func NewEthLedger(backend Backend, system common.Address, log *slog.Logger) *EthLedger {
	if log == nil {
		log = slog.Default()
	}
	return &EthLedger{
		backend:      backend,
		system:       system,
		pollInterval: DefaultPollInterval,
		log:          log,
	}
}

// DialEthLedger connects to a JSON-RPC endpoint.
func DialEthLedger(ctx context.Context, rpcURL string, system common.Address, log *slog.Logger) (*EthLedger, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("could not dial %s: %w", rpcURL, err)
	}
	return NewEthLedger(client, system, log), client, nil
}

// SetTransactOpts sets the signer used by Submit. Without it the client is read-only.
func (l *EthLedger) SetTransactOpts(auth *bind.TransactOpts) {
	l.auth = auth
}

// SetPollInterval overrides the receipt polling interval.
func (l *EthLedger) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		l.pollInterval = interval
	}
}

// SystemContract returns the address of the blob system contract.
func (l *EthLedger) SystemContract() common.Address {
	return l.system
}

// Submit signs the transaction with the configured signer and sends it.
func (l *EthLedger) Submit(ctx context.Context, tx *interfaces.Transaction) (interfaces.TransactionDigest, error) {
	if l.auth == nil {
		return interfaces.TransactionDigest{}, interfaces.ErrNoSigner
	}
	from := l.auth.From
	if tx.Sender != (common.Address{}) && tx.Sender != from {
		return interfaces.TransactionDigest{}, fmt.Errorf("sender %s does not match signer %s", tx.Sender.Hex(), from.Hex())
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return interfaces.TransactionDigest{}, fmt.Errorf("could not get nonce: %w", err)
	}

	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return interfaces.TransactionDigest{}, fmt.Errorf("could not get gas price: %w", err)
	}

	target := tx.Target
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &target,
		Value: value,
		Data:  tx.Data,
	})
	if err != nil {
		if isRevert(err) {
			return interfaces.TransactionDigest{}, fmt.Errorf("%w: %s: %w", interfaces.ErrExecutionReverted, tx.Kind, err)
		}
		return interfaces.TransactionDigest{}, fmt.Errorf("could not estimate gas for %s: %w", tx.Kind, err)
	}

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &target,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     tx.Data,
	})

	signed, err := l.auth.Signer(from, unsigned)
	if err != nil {
		return interfaces.TransactionDigest{}, fmt.Errorf("could not sign %s: %w", tx.Kind, err)
	}

	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return interfaces.TransactionDigest{}, fmt.Errorf("could not send %s: %w", tx.Kind, err)
	}

	l.log.Debug("transaction submitted",
		slog.String("kind", string(tx.Kind)),
		slog.String("digest", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce))

	return signed.Hash(), nil
}

// isRevert reports whether a gas estimation failed because the call reverts.
// Over JSON-RPC the error type is lost, only the message survives.
func isRevert(err error) bool {
	return errors.Is(err, vm.ErrExecutionReverted) || strings.Contains(err.Error(), vm.ErrExecutionReverted.Error())
}

// WaitForFinality polls for the receipt of a transaction until it is mined
// or ctx is done. Lookup errors are treated as transient, nodes report them
// while transaction indexing is still in progress.
func (l *EthLedger) WaitForFinality(ctx context.Context, digest interfaces.TransactionDigest) (*interfaces.TransactionEffects, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, digest)
		if err == nil {
			return l.effects(receipt), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			l.log.Debug("receipt lookup failed, retrying", "err", err, slog.String("digest", digest.Hex()))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *EthLedger) effects(receipt *types.Receipt) *interfaces.TransactionEffects {
	out := &interfaces.TransactionEffects{
		Digest: receipt.TxHash,
		Status: interfaces.ExecutionSuccess,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Status = interfaces.ExecutionFailure
		out.Error = "execution reverted"
		return out
	}

	topic := contracts.ObjectCreatedTopic()
	for _, lg := range receipt.Logs {
		if lg.Address != l.system || len(lg.Topics) == 0 || lg.Topics[0] != topic {
			continue
		}
		created, err := contracts.UnpackObjectCreated(lg)
		if err != nil {
			l.log.Warn("skipping malformed ObjectCreated log", "err", err, slog.String("digest", receipt.TxHash.Hex()))
			continue
		}
		out.CreatedObjects = append(out.CreatedObjects, created)
	}

	return out
}

// Balance returns the native balance or an ERC-20 balance of the account.
func (l *EthLedger) Balance(ctx context.Context, account interfaces.Address, token interfaces.TokenType) (*big.Int, error) {
	if token.IsNative() {
		return l.backend.BalanceAt(ctx, account, nil)
	}

	tokenAddr, err := token.ContractAddress()
	if err != nil {
		return nil, err
	}

	data, err := contracts.PackBalanceOf(account)
	if err != nil {
		return nil, err
	}

	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token, err)
	}

	return contracts.UnpackBalanceOf(out)
}

// Object reads an object from the system contract.
func (l *EthLedger) Object(ctx context.Context, id interfaces.ObjectID) (*interfaces.LedgerObject, error) {
	data, err := contracts.PackGetObject(id)
	if err != nil {
		return nil, err
	}

	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &l.system, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getObject %s: %w", id.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, id.Hex())
	}

	objectType, objectData, err := contracts.UnpackGetObject(out)
	if err != nil {
		return nil, err
	}
	if objectType == "" {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, id.Hex())
	}

	return &interfaces.LedgerObject{ID: id, Type: objectType, Data: objectData}, nil
}
