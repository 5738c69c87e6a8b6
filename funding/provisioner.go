// Package funding makes sure an account holds enough gas and storage payment
// tokens before an upload starts.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ruteri/blob-publisher/contracts"
	"github.com/ruteri/blob-publisher/interfaces"
)

var (
	// ErrFaucetUnavailable is returned when gas is low and no faucet request could be completed.
	ErrFaucetUnavailable = errors.New("faucet unavailable")

	// ErrSwapFailed is returned when the gas-to-payment token exchange did not execute.
	ErrSwapFailed = errors.New("token swap failed")
)

// GasTokenUnit is one whole gas token in base units.
var GasTokenUnit = big.NewInt(1_000_000_000_000_000_000)

// Config holds balance thresholds and the exchange used for swaps.
type Config struct {
	PaymentToken interfaces.TokenType
	// ExchangeObjects are the fixed-rate exchange objects; the first one is used.
	ExchangeObjects []interfaces.ObjectID

	MinGasBalance     *big.Int
	MinPaymentBalance *big.Int
	SwapAmount        *big.Int
}

// DefaultConfig requires one gas token and half a gas token worth of payment
// token, and swaps half a gas token when short.
func DefaultConfig(paymentToken interfaces.TokenType, exchanges ...interfaces.ObjectID) Config {
	half := new(big.Int).Div(GasTokenUnit, big.NewInt(2))
	return Config{
		PaymentToken:      paymentToken,
		ExchangeObjects:   exchanges,
		MinGasBalance:     new(big.Int).Set(GasTokenUnit),
		MinPaymentBalance: half,
		SwapAmount:        new(big.Int).Set(half),
	}
}

// Provisioner tops up gas through a faucet and payment tokens through an exchange.
type Provisioner struct {
	ledger interfaces.LedgerClient
	faucet interfaces.Faucet
	cfg    Config
	log    *slog.Logger
}

// NewProvisioner creates a provisioner. faucet may be nil on networks without one.
func NewProvisioner(ledger interfaces.LedgerClient, faucet interfaces.Faucet, cfg Config, log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	defaults := DefaultConfig(cfg.PaymentToken)
	if cfg.MinGasBalance == nil {
		cfg.MinGasBalance = defaults.MinGasBalance
	}
	if cfg.MinPaymentBalance == nil {
		cfg.MinPaymentBalance = defaults.MinPaymentBalance
	}
	if cfg.SwapAmount == nil {
		cfg.SwapAmount = defaults.SwapAmount
	}

	return &Provisioner{ledger: ledger, faucet: faucet, cfg: cfg, log: log}
}

// EnsureFunds checks both balances and tops up whichever is below its
// threshold. With sufficient balances it neither calls the faucet nor submits
// a transaction.
func (p *Provisioner) EnsureFunds(ctx context.Context, account interfaces.Address) error {
	gas, err := p.ledger.Balance(ctx, account, interfaces.NativeToken)
	if err != nil {
		return fmt.Errorf("could not read gas balance: %w", err)
	}

	if gas.Cmp(p.cfg.MinGasBalance) < 0 {
		if err := p.requestGas(ctx, account); err != nil {
			return err
		}
	}

	if p.cfg.PaymentToken.IsNative() {
		return nil
	}

	payment, err := p.ledger.Balance(ctx, account, p.cfg.PaymentToken)
	if err != nil {
		return fmt.Errorf("could not read payment balance: %w", err)
	}

	p.log.Debug("balances checked",
		slog.String("account", account.Hex()),
		slog.String("gas", gas.String()),
		slog.String("payment", payment.String()))

	if payment.Cmp(p.cfg.MinPaymentBalance) >= 0 {
		return nil
	}

	return p.swap(ctx, account)
}

func (p *Provisioner) requestGas(ctx context.Context, account interfaces.Address) error {
	if p.faucet == nil {
		return fmt.Errorf("%w: gas balance below minimum and no faucet configured", ErrFaucetUnavailable)
	}

	start := time.Now()
	if err := p.faucet.RequestFunds(ctx, account); err != nil {
		return fmt.Errorf("%w: %w", ErrFaucetUnavailable, err)
	}

	p.log.Info("faucet request acknowledged",
		slog.String("account", account.Hex()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (p *Provisioner) swap(ctx context.Context, account interfaces.Address) error {
	if len(p.cfg.ExchangeObjects) == 0 {
		return fmt.Errorf("%w: no exchange configured", ErrSwapFailed)
	}
	exchangeID := p.cfg.ExchangeObjects[0]

	exchange, err := p.ledger.Object(ctx, exchangeID)
	if err != nil {
		return fmt.Errorf("%w: could not read exchange %s: %w", ErrSwapFailed, exchangeID.Hex(), err)
	}

	tag, err := interfaces.ParseStructTag(exchange.Type)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSwapFailed, err)
	}

	data, err := contracts.PackExchangeAllForPayment(exchangeID)
	if err != nil {
		return fmt.Errorf("%w: could not encode exchange call: %w", ErrSwapFailed, err)
	}

	digest, err := p.ledger.Submit(ctx, &interfaces.Transaction{
		Kind:   interfaces.ExchangeTokenTx,
		Sender: account,
		Target: tag.Address,
		Data:   data,
		Value:  new(big.Int).Set(p.cfg.SwapAmount),
	})
	if err != nil {
		return fmt.Errorf("%w: could not submit swap: %w", ErrSwapFailed, err)
	}

	effects, err := p.ledger.WaitForFinality(ctx, digest)
	if err != nil {
		return fmt.Errorf("could not wait for swap %s: %w", digest.Hex(), err)
	}
	if !effects.Succeeded() {
		return fmt.Errorf("%w: %s %s", ErrSwapFailed, digest.Hex(), effects.Error)
	}

	p.log.Info("swapped gas for payment token",
		slog.String("account", account.Hex()),
		slog.String("amount", p.cfg.SwapAmount.String()),
		slog.String("digest", digest.Hex()))
	return nil
}
