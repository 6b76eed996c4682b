package store

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/types"
	"github.com/leadfive/ledgerview/pkg/wallet"
)

var testAccount = types.Account{
	Address: common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"),
	ChainID: 56,
}

// fakeSource serves a fixed view model. A non-nil gate blocks fetches until closed.
type fakeSource[T any] struct {
	mu            sync.Mutex
	vm            T
	err           error
	calls         int
	invalidations int
	clears        int
	gate          chan struct{}
	started       chan struct{}
	// shape, when set, tailors the served view model to the account
	shape func(types.Account, T) T
}

func newFakeSource[T any](vm T) *fakeSource[T] {
	return &fakeSource[T]{vm: vm}
}

func (f *fakeSource[T]) GetViewModel(ctx context.Context, account types.Account) (T, error) {
	f.mu.Lock()
	f.calls++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shape != nil {
		return f.shape(account, f.vm), f.err
	}
	return f.vm, f.err
}

func (f *fakeSource[T]) Invalidate(context.Context, types.Account) {
	f.mu.Lock()
	f.invalidations++
	f.mu.Unlock()
}

func (f *fakeSource[T]) Clear(context.Context) {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
}

// block makes the next fetches wait until the returned release func is called
func (f *fakeSource[T]) block() (started <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.gate, f.started = gate, ch
	f.mu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeSource[T]) set(vm T, err error) {
	f.mu.Lock()
	f.vm, f.err = vm, err
	f.mu.Unlock()
}

func (f *fakeSource[T]) counts() (calls, invalidations, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.invalidations, f.clears
}

type fakeGateway struct {
	mu          sync.Mutex
	account     types.Account
	connectErr  error
	onChange    func(wallet.Change)
	disconnects int

	writeErr     error
	withdrawOpts int
	waitErr      error
	waitCalls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{account: testAccount}
}

func (g *fakeGateway) Connect(context.Context, wallet.Provider) (types.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connectErr != nil {
		return types.Account{}, g.connectErr
	}
	return g.account, nil
}

func (g *fakeGateway) Disconnect() {
	g.mu.Lock()
	g.disconnects++
	g.mu.Unlock()
}

func (g *fakeGateway) OnChange(fn func(wallet.Change)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

func (g *fakeGateway) emit(c wallet.Change) {
	g.mu.Lock()
	fn := g.onChange
	g.mu.Unlock()
	fn(c)
}

func (g *fakeGateway) pending(method string) (*ledger.PendingTransaction, error) {
	if g.writeErr != nil {
		return nil, g.writeErr
	}
	return &ledger.PendingTransaction{
		Hash:   common.HexToHash("0xabc1"),
		Method: method,
		From:   g.account.Address,
	}, nil
}

func (g *fakeGateway) Withdraw(_ context.Context, _ decimal.Decimal, opts ...ledger.WriteOption) (*ledger.PendingTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.withdrawOpts = len(opts)
	return g.pending(ledger.MethodWithdraw)
}

func (g *fakeGateway) Register(context.Context, common.Address, uint8) (*ledger.PendingTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending(ledger.MethodRegister)
}

func (g *fakeGateway) UpgradePackage(context.Context, uint8) (*ledger.PendingTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending(ledger.MethodUpgradePackage)
}

func (g *fakeGateway) WaitMined(ctx context.Context, _ common.Hash) (*ethtypes.Receipt, error) {
	g.mu.Lock()
	g.waitCalls++
	err := g.waitErr
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}, nil
}

type fakePipeline struct {
	mu       sync.Mutex
	starts   []types.Account
	stops    int
	sink     func(types.LedgerEvent)
	startErr error
}

func (p *fakePipeline) Start(_ context.Context, account types.Account, sink func(types.LedgerEvent)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, account)
	p.sink = sink
	return p.startErr
}

func (p *fakePipeline) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakePipeline) started() []types.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Account(nil), p.starts...)
}

// downReader fails every read as if the node were unreachable
type downReader struct{}

var errDown = &ledger.ReadError{Kind: ledger.Unreachable, Attempts: 3, Err: errors.New("dial tcp: connection refused")}

func (downReader) UserInfo(context.Context, common.Address) (*ledger.UserRecord, error) {
	return nil, errDown
}
func (downReader) PoolBalances(context.Context) (*ledger.PoolBalances, error) { return nil, errDown }
func (downReader) EarningsBreakdown(context.Context, common.Address) (*ledger.EarningsRecord, error) {
	return nil, errDown
}
func (downReader) DirectReferrals(context.Context, common.Address) (*ledger.ReferralList, error) {
	return nil, errDown
}
func (downReader) WithdrawalRate(context.Context, common.Address) (uint8, error) { return 0, errDown }
func (downReader) LegVolumes(context.Context, common.Address) (*ledger.LegVolumes, error) {
	return nil, errDown
}
func (downReader) PackagePrices(context.Context) ([]*big.Int, error) { return nil, errDown }
