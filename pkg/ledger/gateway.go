package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/metrics"
	"github.com/leadfive/ledgerview/pkg/types"
	"github.com/leadfive/ledgerview/pkg/wallet"
)

const (
	DefaultGasMarginPercent    = 20
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultLogPollInterval     = 4 * time.Second
)

// Config describes the ledger the gateway talks to
type Config struct {
	Endpoint            string
	ContractAddress     common.Address
	ChainID             int64
	Retry               RetryPolicy
	GasMarginPercent    uint64
	ReceiptPollInterval time.Duration
	LogPollInterval     time.Duration
}

// Option configures a Gateway
type Option func(*Gateway)

// WithDialer replaces the JSON-RPC dialer
func WithDialer(d Dialer) Option {
	return func(g *Gateway) {
		g.dial = d
	}
}

// WithLogger sets the gateway logger
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) {
		g.log = log.With().Str("component", "gateway").Logger()
	}
}

// WithMetrics records read and write outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithClock overrides time.Now for event timestamps
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// identity is the connected signer. It never leaves the gateway.
type identity struct {
	address  common.Address
	chainID  int64
	provider wallet.Provider
	mismatch bool
}

// Gateway is the only component that talks to the ledger. It holds the
// connection and the signing identity; it does not cache.
type Gateway struct {
	cfg     Config
	abi     abi.ABI
	dial    Dialer
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	backend   Backend
	id        *identity
	onChange  func(wallet.Change)
	stopWatch context.CancelFunc
}

// New creates a disconnected gateway
func New(cfg Config, opts ...Option) (*Gateway, error) {
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	cfg.Retry = cfg.Retry.normalized()
	if cfg.GasMarginPercent == 0 {
		cfg.GasMarginPercent = DefaultGasMarginPercent
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if cfg.LogPollInterval <= 0 {
		cfg.LogPollInterval = DefaultLogPollInterval
	}

	g := &Gateway{
		cfg:  cfg,
		abi:  parsed,
		dial: DialEthclient,
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Connect establishes the signing identity through the wallet provider
func (g *Gateway) Connect(ctx context.Context, provider wallet.Provider) (types.Account, error) {
	if provider == nil {
		return types.Account{}, &ConnectionError{Kind: NoProvider}
	}

	accounts, err := provider.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return types.Account{}, &ConnectionError{Kind: UserRejected, Err: err}
		}
		return types.Account{}, &ConnectionError{Kind: NoProvider, Err: err}
	}
	if len(accounts) == 0 {
		return types.Account{}, &ConnectionError{Kind: NoProvider, Err: wallet.ErrNoAccounts}
	}

	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return types.Account{}, &ConnectionError{Kind: NoProvider, Err: err}
	}
	if g.cfg.ChainID != 0 && chainID != g.cfg.ChainID {
		return types.Account{}, &ConnectionError{
			Kind: WrongNetwork,
			Err:  fmt.Errorf("provider is on chain %d, expected %d", chainID, g.cfg.ChainID),
		}
	}

	g.mu.Lock()
	if g.backend == nil {
		backend, err := g.dial(ctx, g.cfg.Endpoint)
		if err != nil {
			g.mu.Unlock()
			return types.Account{}, &ConnectionError{Kind: NoProvider, Err: fmt.Errorf("failed to connect to RPC: %w", err)}
		}
		g.backend = backend
	}
	if g.stopWatch != nil {
		g.stopWatch()
	}
	g.id = &identity{
		address:  accounts[0],
		chainID:  chainID,
		provider: provider,
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	g.stopWatch = cancel
	g.mu.Unlock()

	go g.watch(watchCtx, provider.Changes())

	g.log.Info().
		Str("account", accounts[0].Hex()).
		Int64("chain_id", chainID).
		Str("wallet", provider.Type()).
		Msg("Gateway connected")

	return types.Account{Address: accounts[0], ChainID: chainID}, nil
}

// Disconnect drops the identity and closes the RPC connection
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopWatch != nil {
		g.stopWatch()
		g.stopWatch = nil
	}
	g.id = nil
	if g.backend != nil {
		g.backend.Close()
		g.backend = nil
	}
	g.log.Info().Msg("Gateway disconnected")
}

// Account returns the connected account, if any
func (g *Gateway) Account() (types.Account, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.id == nil {
		return types.Account{}, false
	}
	return types.Account{Address: g.id.address, ChainID: g.id.chainID}, true
}

// OnChange registers the handler called after an account or chain change
func (g *Gateway) OnChange(fn func(wallet.Change)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

func (g *Gateway) watch(ctx context.Context, changes <-chan wallet.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			g.applyChange(change)
		}
	}
}

func (g *Gateway) applyChange(change wallet.Change) {
	g.mu.Lock()
	if g.id == nil {
		g.mu.Unlock()
		return
	}
	switch change.Kind {
	case wallet.AccountChanged:
		g.id.address = change.Address
	case wallet.ChainChanged:
		g.id.chainID = change.ChainID
		g.id.mismatch = g.cfg.ChainID != 0 && change.ChainID != g.cfg.ChainID
	case wallet.Disconnected:
		g.id = nil
	}
	handler := g.onChange
	g.mu.Unlock()

	g.log.Info().
		Str("change", change.Kind.String()).
		Str("account", change.Address.Hex()).
		Int64("chain_id", change.ChainID).
		Msg("Wallet identity changed")

	if handler != nil {
		handler(change)
	}
}

func (g *Gateway) currentBackend() Backend {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.backend
}

// read packs, calls and unpacks one view method under the retry policy
func (g *Gateway) read(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		g.metrics.ObserveRead(method, string(InvalidArgument))
		return &ReadError{Kind: InvalidArgument, Method: method, Attempts: 1, Err: fmt.Errorf("failed to pack %s call: %w", method, err)}
	}

	backend := g.currentBackend()
	if backend == nil {
		g.metrics.ObserveRead(method, string(Unreachable))
		return &ReadError{Kind: Unreachable, Method: method, Attempts: 1, Err: types.ErrNotConnected}
	}

	_, err = Retry(ctx, g.cfg.Retry, g.log, method, func(ctx context.Context) (struct{}, error) {
		start := time.Now()
		result, err := backend.CallContract(ctx, ethereum.CallMsg{
			To:   &g.cfg.ContractAddress,
			Data: data,
		}, nil)
		g.metrics.ObserveLatency(method, time.Since(start).Seconds())

		if err != nil {
			kind := classifyCall(err)
			g.metrics.ObserveRead(method, string(kind))
			return struct{}{}, &ReadError{Kind: kind, Method: method, Err: fmt.Errorf("failed to call %s: %w", method, err)}
		}
		if len(result) == 0 {
			g.metrics.ObserveRead(method, string(Undecodable))
			return struct{}{}, &ReadError{Kind: Undecodable, Method: method, Err: errors.New("empty return data")}
		}
		if err := g.abi.UnpackIntoInterface(out, method, result); err != nil {
			g.metrics.ObserveRead(method, string(Undecodable))
			return struct{}{}, &ReadError{Kind: Undecodable, Method: method, Err: fmt.Errorf("failed to unpack %s result: %w", method, err)}
		}
		g.metrics.ObserveRead(method, "ok")
		return struct{}{}, nil
	})
	return err
}

// UserInfo reads the account record
func (g *Gateway) UserInfo(ctx context.Context, user common.Address) (*UserRecord, error) {
	var out UserRecord
	if err := g.read(ctx, MethodGetUserInfo, &out, user); err != nil {
		return nil, err
	}
	return &out, nil
}

// PoolBalances reads the contract-wide pool balances
func (g *Gateway) PoolBalances(ctx context.Context) (*PoolBalances, error) {
	var out PoolBalances
	if err := g.read(ctx, MethodGetPoolBalances, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EarningsBreakdown reads the per-stream earnings of an account
func (g *Gateway) EarningsBreakdown(ctx context.Context, user common.Address) (*EarningsRecord, error) {
	var out EarningsRecord
	if err := g.read(ctx, MethodGetEarningsBreakdown, &out, user); err != nil {
		return nil, err
	}
	return &out, nil
}

// DirectReferrals reads the account's direct referrals and their activity flags
func (g *Gateway) DirectReferrals(ctx context.Context, user common.Address) (*ReferralList, error) {
	var out ReferralList
	if err := g.read(ctx, MethodGetDirectReferrals, &out, user); err != nil {
		return nil, err
	}
	if len(out.Active) != len(out.Referrals) {
		return nil, &ReadError{
			Kind:     Undecodable,
			Method:   MethodGetDirectReferrals,
			Attempts: 1,
			Err:      fmt.Errorf("referral list has %d addresses but %d flags", len(out.Referrals), len(out.Active)),
		}
	}
	return &out, nil
}

// WithdrawalRate reads the withdrawable percentage for an account
func (g *Gateway) WithdrawalRate(ctx context.Context, user common.Address) (uint8, error) {
	var rate uint8
	if err := g.read(ctx, MethodGetWithdrawalRate, &rate, user); err != nil {
		return 0, err
	}
	if rate > 100 {
		return 0, &ReadError{Kind: Undecodable, Method: MethodGetWithdrawalRate, Attempts: 1, Err: fmt.Errorf("rate %d out of range", rate)}
	}
	return rate, nil
}

// LegVolumes reads the binary-tree leg volumes of an account
func (g *Gateway) LegVolumes(ctx context.Context, user common.Address) (*LegVolumes, error) {
	var out LegVolumes
	if err := g.read(ctx, MethodGetLegVolumes, &out, user); err != nil {
		return nil, err
	}
	return &out, nil
}

// PackagePrices reads the price of every package level, index 0 being level 1
func (g *Gateway) PackagePrices(ctx context.Context) ([]*big.Int, error) {
	var prices []*big.Int
	if err := g.read(ctx, MethodGetPackagePrices, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// PendingTransaction is a submitted, not yet mined, write
type PendingTransaction struct {
	Hash        common.Hash    `json:"hash"`
	Method      string         `json:"method"`
	From        common.Address `json:"from"`
	Nonce       uint64         `json:"nonce"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// WriteOption tunes a single write
type WriteOption func(*writeOptions)

type writeOptions struct {
	available *decimal.Decimal
}

// WithAvailableBalance rejects a withdrawal above the given balance before
// anything is sent to the ledger
func WithAvailableBalance(available decimal.Decimal) WriteOption {
	return func(o *writeOptions) {
		o.available = &available
	}
}

// Withdraw submits a withdrawal of amount
func (g *Gateway) Withdraw(ctx context.Context, amount decimal.Decimal, opts ...WriteOption) (*PendingTransaction, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !amount.IsPositive() {
		return nil, &WriteError{Kind: Rejected, Method: MethodWithdraw, Reason: "amount must be positive", Err: types.ErrInvalidAmount}
	}
	if o.available != nil && amount.GreaterThan(*o.available) {
		g.metrics.ObserveWrite(MethodWithdraw, string(InsufficientFunds))
		return nil, &WriteError{
			Kind:   InsufficientFunds,
			Method: MethodWithdraw,
			Reason: fmt.Sprintf("requested %s, available %s", amount.String(), o.available.String()),
		}
	}

	return g.write(ctx, MethodWithdraw, nil, ToWei(amount))
}

// Register joins the network under referrer at the given package level
func (g *Gateway) Register(ctx context.Context, referrer common.Address, level uint8) (*PendingTransaction, error) {
	price, err := g.packagePrice(ctx, MethodRegister, level)
	if err != nil {
		return nil, err
	}
	return g.write(ctx, MethodRegister, price, referrer, level)
}

// UpgradePackage moves the account to a higher package level
func (g *Gateway) UpgradePackage(ctx context.Context, level uint8) (*PendingTransaction, error) {
	price, err := g.packagePrice(ctx, MethodUpgradePackage, level)
	if err != nil {
		return nil, err
	}
	return g.write(ctx, MethodUpgradePackage, price, level)
}

func (g *Gateway) packagePrice(ctx context.Context, method string, level uint8) (*big.Int, error) {
	prices, err := g.PackagePrices(ctx)
	if err != nil {
		return nil, &WriteError{Kind: Rejected, Method: method, Reason: "package price unavailable", Err: err}
	}
	if level == 0 || int(level) > len(prices) {
		return nil, &WriteError{Kind: Rejected, Method: method, Reason: fmt.Sprintf("unknown package level %d", level), Err: types.ErrInvalidPackage}
	}
	return prices[level-1], nil
}

// write signs and submits one state-changing call. It is never retried.
func (g *Gateway) write(ctx context.Context, method string, value *big.Int, args ...interface{}) (*PendingTransaction, error) {
	pending, err := g.submit(ctx, method, value, args...)
	if err != nil {
		var we *WriteError
		if errors.As(err, &we) {
			g.metrics.ObserveWrite(method, string(we.Kind))
		}
		g.log.Warn().Err(err).Str("method", method).Msg("Ledger write failed")
		return nil, err
	}

	g.metrics.ObserveWrite(method, "submitted")
	g.log.Info().
		Str("method", method).
		Str("tx_hash", pending.Hash.Hex()).
		Uint64("nonce", pending.Nonce).
		Msg("Ledger write submitted")
	return pending, nil
}

func (g *Gateway) submit(ctx context.Context, method string, value *big.Int, args ...interface{}) (*PendingTransaction, error) {
	g.mu.RLock()
	id := g.id
	backend := g.backend
	var from common.Address
	var chainID int64
	var provider wallet.Provider
	var mismatch bool
	if id != nil {
		from, chainID, provider, mismatch = id.address, id.chainID, id.provider, id.mismatch
	}
	g.mu.RUnlock()

	if id == nil || backend == nil {
		return nil, &WriteError{Kind: Rejected, Method: method, Reason: "not connected", Err: types.ErrNotConnected}
	}
	if mismatch {
		return nil, &WriteError{Kind: Rejected, Method: method, Reason: "wallet is on a different network", Err: types.ErrIdentityMismatch}
	}
	if value == nil {
		value = big.NewInt(0)
	}

	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, &WriteError{Kind: Rejected, Method: method, Reason: "invalid arguments", Err: fmt.Errorf("failed to pack %s call: %w", method, err)}
	}

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, &WriteError{Kind: Rejected, Method: method, Reason: "ledger unreachable", Err: fmt.Errorf("failed to get nonce: %w", err)}
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &WriteError{Kind: Rejected, Method: method, Reason: "ledger unreachable", Err: fmt.Errorf("failed to get gas price: %w", err)}
	}

	// Estimate gas (also validates the tx won't revert)
	estimatedGas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &g.cfg.ContractAddress,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, classifyWrite(method, err)
	}
	gasLimit := estimatedGas * (100 + g.cfg.GasMarginPercent) / 100

	contract := g.cfg.ContractAddress
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := provider.SignTx(ctx, from, tx, big.NewInt(chainID))
	if err != nil {
		return nil, classifyWrite(method, err)
	}

	if err := backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, classifyWrite(method, err)
	}

	return &PendingTransaction{
		Hash:        signedTx.Hash(),
		Method:      method,
		From:        from,
		Nonce:       nonce,
		SubmittedAt: g.now(),
	}, nil
}

// WaitMined polls for the receipt of a submitted write
func (g *Gateway) WaitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	backend := g.currentBackend()
	if backend == nil {
		return nil, types.ErrNotConnected
	}

	ticker := time.NewTicker(g.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := backend.TransactionReceipt(ctx, hash)
			if err != nil {
				if !errors.Is(err, ethereum.NotFound) {
					g.log.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("Receipt poll failed")
				}
				continue
			}
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return receipt, &WriteError{Kind: Reverted, Reason: "transaction reverted", Err: fmt.Errorf("tx %s failed in block %s", hash.Hex(), receipt.BlockNumber)}
			}
			return receipt, nil
		}
	}
}
