package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/leadfive/ledgerview/pkg/wallet"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testContract = common.HexToAddress("0x7FEEA22942407407801cCDA55a4392f25975D998")

type fakeSub struct {
	errCh chan error
	once  sync.Once
}

func newFakeSub() *fakeSub { return &fakeSub{errCh: make(chan error, 1)} }

func (s *fakeSub) Err() <-chan error { return s.errCh }
func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errCh) }) }

type fakeBackend struct {
	mu sync.Mutex

	call        func(method string, data []byte) ([]byte, error)
	calls       map[string]int
	nonceCalls  int
	estimateErr error
	sendErr     error
	sent        []*ethtypes.Transaction
	receipt     *ethtypes.Receipt

	subscribeErr error
	logsCh       chan<- ethtypes.Log
	headErrs     int
	head         uint64
	queries      []ethereum.FilterQuery
	sub          *fakeSub
	closed       bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int), head: 100}
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed, _ := ParseABI()
	method, err := parsed.MethodById(msg.Data)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.calls[method.Name]++
	call := b.call
	b.mu.Unlock()
	if call == nil {
		return nil, errors.New("connection refused")
	}
	return call(method.Name, msg.Data)
}

func (b *fakeBackend) callCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonceCalls++
	return 7, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(3_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 100_000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receipt == nil {
		return nil, ethereum.NotFound
	}
	return b.receipt, nil
}

// BlockNumber fails headErrs times before reporting head
func (b *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.headErrs > 0 {
		b.headErrs--
		return 0, errors.New("header not found")
	}
	return b.head, nil
}

func (b *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	return nil, nil
}

func (b *fakeBackend) filterQueries() []ethereum.FilterQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), b.queries...)
}

func (b *fakeBackend) setHead(head uint64) {
	b.mu.Lock()
	b.head = head
	b.mu.Unlock()
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.logsCh = ch
	b.sub = newFakeSub()
	return b.sub, nil
}

func (b *fakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// packOutputs encodes return values the way the contract would
func packOutputs(t *testing.T, method string, values ...interface{}) []byte {
	t.Helper()
	parsed, err := ParseABI()
	require.NoError(t, err)
	data, err := parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return data
}

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

func newTestGateway(t *testing.T, backend *fakeBackend) *Gateway {
	t.Helper()
	g, err := New(Config{
		ContractAddress: testContract,
		ChainID:         56,
		Retry:           testRetry(),
	}, WithDialer(func(ctx context.Context, endpoint string) (Backend, error) {
		return backend, nil
	}))
	require.NoError(t, err)
	return g
}

func connectTestGateway(t *testing.T, backend *fakeBackend) (*Gateway, *wallet.KeyProvider) {
	t.Helper()
	g := newTestGateway(t, backend)
	provider, err := wallet.NewKeyProvider(56, testKey)
	require.NoError(t, err)
	_, err = g.Connect(context.Background(), provider)
	require.NoError(t, err)
	t.Cleanup(g.Disconnect)
	return g, provider
}
