package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/types"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[types.EventName]ledger.EventHandler
	filters      map[types.EventName]ledger.EventFilter
	unsubscribed int
	failOn       types.EventName
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		handlers: make(map[types.EventName]ledger.EventHandler),
		filters:  make(map[types.EventName]ledger.EventFilter),
	}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, name types.EventName, filter ledger.EventFilter, handler ledger.EventHandler) (ledger.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failOn {
		return nil, errors.New("subscription refused")
	}
	f.handlers[name] = handler
	f.filters[name] = filter
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.unsubscribed++
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakeSubscriber) handler(name types.EventName) ledger.EventHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[name]
}

type recorder struct {
	mu     sync.Mutex
	events []types.LedgerEvent
}

func (r *recorder) sink(ev types.LedgerEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

var account = types.Account{Address: common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), ChainID: 56}

func TestStart_SubscribesEveryEventForAccount(t *testing.T) {
	sub := newFakeSubscriber()
	p := New(sub, zerolog.Nop())
	rec := &recorder{}

	require.NoError(t, p.Start(context.Background(), account, rec.sink))
	assert.True(t, p.Active())

	for _, name := range types.EventNames() {
		require.NotNil(t, sub.handler(name), name)
		assert.Equal(t, account.Address, sub.filters[name].Account)
	}

	sub.handler(types.EventEarningsUpdated)(types.EarningsUpdated{User: account.Address.Hex(), Amount: decimal.NewFromInt(1)})
	sub.handler(types.EventNewReferral)(types.NewReferral{Sponsor: account.Address.Hex()})
	require.Equal(t, 2, rec.len())
	assert.Equal(t, types.EventEarningsUpdated, rec.events[0].Name())
	assert.Equal(t, types.EventNewReferral, rec.events[1].Name())
}

func TestStop_UnsubscribesAndDropsLateEvents(t *testing.T) {
	sub := newFakeSubscriber()
	p := New(sub, zerolog.Nop())
	rec := &recorder{}
	require.NoError(t, p.Start(context.Background(), account, rec.sink))
	late := sub.handler(types.EventWithdrawalProcessed)

	p.Stop()
	p.Stop()

	assert.False(t, p.Active())
	assert.Equal(t, len(types.EventNames()), sub.unsubscribed)
	late(types.WithdrawalProcessed{User: account.Address.Hex()})
	assert.Zero(t, rec.len())
}

func TestStart_RestartReleasesPreviousSubscriptions(t *testing.T) {
	sub := newFakeSubscriber()
	p := New(sub, zerolog.Nop())
	rec := &recorder{}
	require.NoError(t, p.Start(context.Background(), account, rec.sink))
	old := sub.handler(types.EventPackageUpgraded)

	next := types.Account{Address: common.HexToAddress("0x00000000000000000000000000000000000000cc"), ChainID: 56}
	require.NoError(t, p.Start(context.Background(), next, rec.sink))

	assert.Equal(t, len(types.EventNames()), sub.unsubscribed)
	assert.Equal(t, next.Address, sub.filters[types.EventPackageUpgraded].Account)

	old(types.PackageUpgraded{User: account.Address.Hex()})
	assert.Zero(t, rec.len())
	sub.handler(types.EventPackageUpgraded)(types.PackageUpgraded{User: next.Address.Hex()})
	assert.Equal(t, 1, rec.len())
}

func TestStart_FailureRollsBack(t *testing.T) {
	sub := newFakeSubscriber()
	sub.failOn = types.EventWithdrawalProcessed
	p := New(sub, zerolog.Nop())

	err := p.Start(context.Background(), account, func(types.LedgerEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WithdrawalProcessed")
	assert.False(t, p.Active())
	assert.Equal(t, 2, sub.unsubscribed, "subscriptions made before the failure are released")
}
