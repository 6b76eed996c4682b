package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfive/ledgerview/pkg/wallet"
)

type rejectingProvider struct {
	*wallet.KeyProvider
}

func (p rejectingProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return nil, wallet.ErrUserRejected
}

func TestGateway_ConnectErrors(t *testing.T) {
	g := newTestGateway(t, newFakeBackend())

	_, err := g.Connect(context.Background(), nil)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, NoProvider, ce.Kind)

	foreign, err := wallet.NewKeyProvider(1, testKey)
	require.NoError(t, err)
	_, err = g.Connect(context.Background(), foreign)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, WrongNetwork, ce.Kind)

	kp, err := wallet.NewKeyProvider(56, testKey)
	require.NoError(t, err)
	_, err = g.Connect(context.Background(), rejectingProvider{kp})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, UserRejected, ce.Kind)

	_, ok := g.Account()
	assert.False(t, ok)
}

func TestGateway_ConnectAndDisconnect(t *testing.T) {
	backend := newFakeBackend()
	g := newTestGateway(t, backend)
	provider, err := wallet.NewKeyProvider(56, testKey)
	require.NoError(t, err)

	account, err := g.Connect(context.Background(), provider)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), account.Address)
	assert.Equal(t, int64(56), account.ChainID)

	got, ok := g.Account()
	require.True(t, ok)
	assert.Equal(t, account, got)

	g.Disconnect()
	_, ok = g.Account()
	assert.False(t, ok)
	assert.True(t, backend.closed)
}

func TestGateway_UserInfoDecodes(t *testing.T) {
	backend := newFakeBackend()
	referrer := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	backend.call = func(method string, data []byte) ([]byte, error) {
		return packOutputs(t, MethodGetUserInfo,
			true, uint8(2), referrer,
			wei(25), wei(100), wei(60), wei(400),
			uint32(3), uint32(12), false, uint32(1700000000), "LF-ALPHA",
		), nil
	}
	g, _ := connectTestGateway(t, backend)

	rec, err := g.UserInfo(context.Background(), referrer)
	require.NoError(t, err)
	assert.True(t, rec.IsRegistered)
	assert.Equal(t, uint8(2), rec.PackageLevel)
	assert.Equal(t, referrer, rec.Referrer)
	assert.Equal(t, "25", FromWei(rec.Balance).String())
	assert.Equal(t, "400", FromWei(rec.EarningsCap).String())
	assert.Equal(t, uint32(12), rec.TeamSize)
	assert.Equal(t, "LF-ALPHA", rec.ReferralCode)
	assert.Equal(t, 1, backend.callCount(MethodGetUserInfo))
}

func TestGateway_ReadClassification(t *testing.T) {
	tests := []struct {
		name     string
		call     func(method string, data []byte) ([]byte, error)
		kind     ReadKind
		attempts int
	}{
		{
			name:     "transport failure retries",
			call:     func(string, []byte) ([]byte, error) { return nil, errors.New("dial tcp 10.0.0.1:8545: connection refused") },
			kind:     Unreachable,
			attempts: 3,
		},
		{
			name:     "view revert is schema drift",
			call:     func(string, []byte) ([]byte, error) { return nil, errors.New("execution reverted") },
			kind:     Undecodable,
			attempts: 1,
		},
		{
			name:     "empty return data",
			call:     func(string, []byte) ([]byte, error) { return []byte{}, nil },
			kind:     Undecodable,
			attempts: 1,
		},
		{
			name:     "garbage return data",
			call:     func(string, []byte) ([]byte, error) { return []byte{0x01, 0x02, 0x03}, nil },
			kind:     Undecodable,
			attempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.call = tt.call
			g, _ := connectTestGateway(t, backend)

			_, err := g.PoolBalances(context.Background())
			require.Error(t, err)

			var re *ReadError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.attempts, re.Attempts)
			assert.Equal(t, tt.attempts, backend.callCount(MethodGetPoolBalances))
		})
	}
}

func TestGateway_ReadWithoutConnection(t *testing.T) {
	g := newTestGateway(t, newFakeBackend())

	_, err := g.PackagePrices(context.Background())
	assert.True(t, IsReadKind(err, Unreachable))
}

func TestGateway_SingleValueReads(t *testing.T) {
	backend := newFakeBackend()
	backend.call = func(method string, data []byte) ([]byte, error) {
		switch method {
		case MethodGetWithdrawalRate:
			return packOutputs(t, method, uint8(70)), nil
		case MethodGetPackagePrices:
			return packOutputs(t, method, []*big.Int{wei(30), wei(50), wei(100), wei(200)}), nil
		case MethodGetDirectReferrals:
			return packOutputs(t, method,
				[]common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
				[]bool{true, false},
			), nil
		}
		return nil, errors.New("unexpected")
	}
	g, provider := connectTestGateway(t, backend)
	accounts, err := provider.RequestAccounts(context.Background())
	require.NoError(t, err)

	rate, err := g.WithdrawalRate(context.Background(), accounts[0])
	require.NoError(t, err)
	assert.Equal(t, uint8(70), rate)

	prices, err := g.PackagePrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 4)
	assert.Equal(t, "200", FromWei(prices[3]).String())

	refs, err := g.DirectReferrals(context.Background(), accounts[0])
	require.NoError(t, err)
	assert.Len(t, refs.Referrals, 2)
	assert.Equal(t, []bool{true, false}, refs.Active)
}

func TestGateway_WithdrawInsufficientFundsSubmitsNothing(t *testing.T) {
	backend := newFakeBackend()
	g, _ := connectTestGateway(t, backend)

	_, err := g.Withdraw(context.Background(), decimal.NewFromInt(1000), WithAvailableBalance(decimal.RequireFromString("25.5")))

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, InsufficientFunds, we.Kind)
	assert.Equal(t, 0, backend.nonceCalls)
	assert.Empty(t, backend.sent)
}

func TestGateway_WithdrawSubmits(t *testing.T) {
	backend := newFakeBackend()
	g, provider := connectTestGateway(t, backend)
	accounts, err := provider.RequestAccounts(context.Background())
	require.NoError(t, err)

	pending, err := g.Withdraw(context.Background(), decimal.RequireFromString("12.5"), WithAvailableBalance(decimal.RequireFromString("25.5")))
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, pending.Hash, tx.Hash())
	assert.Equal(t, uint64(7), pending.Nonce)
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, testContract, *tx.To())

	sender, err := ethtypes.Sender(ethtypes.NewEIP155Signer(big.NewInt(56)), tx)
	require.NoError(t, err)
	assert.Equal(t, accounts[0], sender)

	parsed, err := ParseABI()
	require.NoError(t, err)
	args, err := parsed.Methods[MethodWithdraw].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, "12.5", FromWei(args[0].(*big.Int)).String())
}

func TestGateway_WriteErrorKinds(t *testing.T) {
	tests := []struct {
		name        string
		estimateErr error
		sendErr     error
		kind        WriteKind
		reason      string
	}{
		{"insufficient gas funds", errors.New("insufficient funds for gas * price + value"), nil, InsufficientFunds, ""},
		{"revert reason", errors.New("execution reverted: Package not active"), nil, Reverted, "Package not active"},
		{"submission rejected", nil, errors.New("user rejected transaction"), Rejected, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.estimateErr = tt.estimateErr
			backend.sendErr = tt.sendErr
			g, _ := connectTestGateway(t, backend)

			_, err := g.Withdraw(context.Background(), decimal.NewFromInt(1))
			var we *WriteError
			require.ErrorAs(t, err, &we)
			assert.Equal(t, tt.kind, we.Kind)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, we.Reason)
			}
		})
	}
}

func TestGateway_WriteAfterChainSwitchIsRejected(t *testing.T) {
	backend := newFakeBackend()
	g, provider := connectTestGateway(t, backend)

	changed := make(chan wallet.Change, 1)
	g.OnChange(func(c wallet.Change) { changed <- c })

	provider.SwitchChain(1)
	select {
	case c := <-changed:
		assert.Equal(t, wallet.ChainChanged, c.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("change not forwarded")
	}

	_, err := g.Withdraw(context.Background(), decimal.NewFromInt(1))
	assert.True(t, IsWriteKind(err, Rejected))
	assert.Empty(t, backend.sent)
}

func TestGateway_UpgradeUsesPackagePrice(t *testing.T) {
	backend := newFakeBackend()
	backend.call = func(method string, data []byte) ([]byte, error) {
		return packOutputs(t, MethodGetPackagePrices, []*big.Int{wei(30), wei(50), wei(100), wei(200)}), nil
	}
	g, _ := connectTestGateway(t, backend)

	_, err := g.UpgradePackage(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, wei(100), backend.sent[0].Value())

	_, err = g.UpgradePackage(context.Background(), 9)
	assert.True(t, IsWriteKind(err, Rejected))
}

func TestGateway_WaitMined(t *testing.T) {
	backend := newFakeBackend()
	g, err := New(Config{ContractAddress: testContract, ChainID: 56, ReceiptPollInterval: 10 * time.Millisecond},
		WithDialer(func(ctx context.Context, endpoint string) (Backend, error) { return backend, nil }))
	require.NoError(t, err)
	provider, err := wallet.NewKeyProvider(56, testKey)
	require.NoError(t, err)
	_, err = g.Connect(context.Background(), provider)
	require.NoError(t, err)
	defer g.Disconnect()

	backend.mu.Lock()
	backend.receipt = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(9)}
	backend.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = g.WaitMined(ctx, common.HexToHash("0x01"))
	assert.True(t, IsWriteKind(err, Reverted))
}
