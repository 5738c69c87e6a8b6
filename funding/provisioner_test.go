package funding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	account      = common.HexToAddress("0x00000000000000000000000000000000000acc01")
	systemPkg    = common.HexToAddress("0x0000000000000000000000000000000000005157")
	exchangePkg  = common.HexToAddress("0x000000000000000000000000000000000000e1e1")
	paymentToken = interfaces.TokenType("0x0000000000000000000000000000000000000a1a::wal::WAL")

	testLog = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), GasTokenUnit)
}

func TestEnsureFunds_NoOpWhenFunded(t *testing.T) {
	mockLedger := new(ledger.MockLedger)
	mockLedger.On("Balance", mock.Anything, account, interfaces.NativeToken).Return(units(5), nil)
	mockLedger.On("Balance", mock.Anything, account, paymentToken).Return(units(1), nil)
	faucet := new(MockFaucet)

	p := NewProvisioner(mockLedger, faucet, DefaultConfig(paymentToken, common.HexToHash("0x01")), testLog)
	require.NoError(t, p.EnsureFunds(context.Background(), account))

	faucet.AssertNotCalled(t, "RequestFunds", mock.Anything, mock.Anything)
	mockLedger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	mockLedger.AssertNotCalled(t, "Object", mock.Anything, mock.Anything)
	mockLedger.AssertExpectations(t)
}

func TestEnsureFunds_Faucet(t *testing.T) {
	testCases := []struct {
		name      string
		faucetErr error
		noFaucet  bool
		wantErr   error
	}{
		{name: "Faucet acknowledges"},
		{name: "Faucet fails", faucetErr: errors.New("rate limited"), wantErr: ErrFaucetUnavailable},
		{name: "No faucet configured", noFaucet: true, wantErr: ErrFaucetUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockLedger := new(ledger.MockLedger)
			mockLedger.On("Balance", mock.Anything, account, interfaces.NativeToken).Return(big.NewInt(10), nil)
			mockLedger.On("Balance", mock.Anything, account, paymentToken).Return(units(1), nil).Maybe()

			faucet := new(MockFaucet)
			faucet.On("RequestFunds", mock.Anything, account).Return(tc.faucetErr)

			var f interfaces.Faucet = faucet
			if tc.noFaucet {
				f = nil
			}

			p := NewProvisioner(mockLedger, f, DefaultConfig(paymentToken), testLog)
			err := p.EnsureFunds(context.Background(), account)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}

			if tc.noFaucet {
				faucet.AssertNotCalled(t, "RequestFunds", mock.Anything, mock.Anything)
			} else {
				faucet.AssertNumberOfCalls(t, "RequestFunds", 1)
			}
			mockLedger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}

func TestEnsureFunds_Swap(t *testing.T) {
	mem := ledger.NewMemoryLedger(systemPkg)
	exchangeID := mem.AddExchange(exchangePkg, paymentToken)
	mem.SetBalance(account, interfaces.NativeToken, units(3))

	p := NewProvisioner(mem, nil, DefaultConfig(paymentToken, exchangeID), testLog)
	require.NoError(t, p.EnsureFunds(context.Background(), account))

	payment, err := mem.Balance(context.Background(), account, paymentToken)
	require.NoError(t, err)
	assert.Zero(t, payment.Cmp(new(big.Int).Div(GasTokenUnit, big.NewInt(2))))

	submitted := mem.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, interfaces.ExchangeTokenTx, submitted[0].Kind)
	assert.Equal(t, exchangePkg, submitted[0].Target)

	// Funded now, a second call is a no-op.
	require.NoError(t, p.EnsureFunds(context.Background(), account))
	assert.Len(t, mem.Submitted(), 1)
}

func TestEnsureFunds_SwapFailures(t *testing.T) {
	t.Run("Execution failure", func(t *testing.T) {
		mem := ledger.NewMemoryLedger(systemPkg)
		exchangeID := mem.AddExchange(exchangePkg, paymentToken)
		mem.SetBalance(account, interfaces.NativeToken, units(3))
		mem.FailNext(interfaces.ExchangeTokenTx, "exchange drained")

		p := NewProvisioner(mem, nil, DefaultConfig(paymentToken, exchangeID), testLog)
		err := p.EnsureFunds(context.Background(), account)
		assert.ErrorIs(t, err, ErrSwapFailed)
		assert.Contains(t, err.Error(), "exchange drained")
	})

	t.Run("No exchange configured", func(t *testing.T) {
		mem := ledger.NewMemoryLedger(systemPkg)
		mem.SetBalance(account, interfaces.NativeToken, units(3))

		p := NewProvisioner(mem, nil, DefaultConfig(paymentToken), testLog)
		assert.ErrorIs(t, p.EnsureFunds(context.Background(), account), ErrSwapFailed)
		assert.Empty(t, mem.Submitted())
	})

	t.Run("Exchange object missing", func(t *testing.T) {
		mem := ledger.NewMemoryLedger(systemPkg)
		mem.SetBalance(account, interfaces.NativeToken, units(3))

		p := NewProvisioner(mem, nil, DefaultConfig(paymentToken, common.HexToHash("0x404")), testLog)
		err := p.EnsureFunds(context.Background(), account)
		assert.ErrorIs(t, err, ErrSwapFailed)
		assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
	})

	t.Run("Submit rejected", func(t *testing.T) {
		exchangeID := common.HexToHash("0xe1")
		mockLedger := new(ledger.MockLedger)
		mockLedger.On("Balance", mock.Anything, account, interfaces.NativeToken).Return(units(3), nil)
		mockLedger.On("Balance", mock.Anything, account, paymentToken).Return(big.NewInt(0), nil)
		mockLedger.On("Object", mock.Anything, exchangeID).Return(&interfaces.LedgerObject{
			ID:   exchangeID,
			Type: interfaces.StructTag{Address: exchangePkg, Module: ledger.ExchangeModule, Name: "Exchange"}.String(),
		}, nil)
		mockLedger.On("Submit", mock.Anything, mock.MatchedBy(func(tx *interfaces.Transaction) bool {
			return tx.Kind == interfaces.ExchangeTokenTx && tx.Target == exchangePkg
		})).Return(common.Hash{}, interfaces.ErrExecutionReverted).Once()

		p := NewProvisioner(mockLedger, nil, DefaultConfig(paymentToken, exchangeID), testLog)
		err := p.EnsureFunds(context.Background(), account)
		assert.ErrorIs(t, err, ErrSwapFailed)
		assert.ErrorIs(t, err, interfaces.ErrExecutionReverted)
		mockLedger.AssertNotCalled(t, "WaitForFinality", mock.Anything, mock.Anything)
		mockLedger.AssertExpectations(t)
	})
}

func TestEnsureFunds_BalanceError(t *testing.T) {
	mockLedger := new(ledger.MockLedger)
	mockLedger.On("Balance", mock.Anything, account, interfaces.NativeToken).Return(nil, errors.New("rpc down"))

	p := NewProvisioner(mockLedger, nil, DefaultConfig(paymentToken), testLog)
	err := p.EnsureFunds(context.Background(), account)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrFaucetUnavailable)
}
