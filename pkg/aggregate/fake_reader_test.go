package aggregate

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/ledger"
)

var errUnreachable = &ledger.ReadError{Kind: ledger.Unreachable, Attempts: 3, Err: errors.New("connection refused")}

// fakeReader serves fixed records; any method listed in fail returns Unreachable
type fakeReader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
	panic bool

	// gate, when set, holds UserInfo until closed
	gate    chan struct{}
	entered chan struct{}

	user     ledger.UserRecord
	earnings ledger.EarningsRecord
	pools    ledger.PoolBalances
	list     ledger.ReferralList
	rate     uint8
	legs     ledger.LegVolumes
	prices   []*big.Int
}

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func weiString(s string) *big.Int {
	return ledger.ToWei(decimal.RequireFromString(s))
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		fail:  make(map[string]bool),
		calls: make(map[string]int),
		user: ledger.UserRecord{
			IsRegistered:     true,
			PackageLevel:     2,
			Referrer:         common.HexToAddress("0x00000000000000000000000000000000000000bb"),
			Balance:          weiString("25.5"),
			TotalInvestment:  wei(50),
			TotalEarnings:    wei(60),
			EarningsCap:      big.NewInt(0),
			DirectReferrals:  3,
			TeamSize:         9,
			RegistrationTime: 1700000000,
			ReferralCode:     "LF-TEST",
		},
		earnings: ledger.EarningsRecord{
			DirectReferral: wei(24),
			LevelBonus:     wei(6),
			UplineBonus:    wei(6),
			LeaderPool:     wei(6),
			HelpPool:       wei(18),
		},
		pools: ledger.PoolBalances{HelpPool: wei(1000), LeaderPool: wei(300), ClubPool: wei(50)},
		list: ledger.ReferralList{
			Referrals: []common.Address{
				common.HexToAddress("0x01"),
				common.HexToAddress("0x02"),
				common.HexToAddress("0x03"),
			},
			Active: []bool{true, true, false},
		},
		rate:   80,
		legs:   ledger.LegVolumes{Left: wei(100), Right: wei(400)},
		prices: []*big.Int{wei(30), wei(50), wei(100), wei(200)},
	}
}

func (f *fakeReader) enter(method string) error {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil && method == ledger.MethodGetUserInfo {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.panic && method == ledger.MethodGetUserInfo {
		panic("decoder bug")
	}
	if f.fail[method] {
		return errUnreachable
	}
	return nil
}

// hold blocks UserInfo until release is called
func (f *fakeReader) hold() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.gate, f.entered = gate, ch
	f.mu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeReader) setFail(methods ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]bool)
	for _, m := range methods {
		f.fail[m] = true
	}
}

func (f *fakeReader) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeReader) UserInfo(ctx context.Context, user common.Address) (*ledger.UserRecord, error) {
	if err := f.enter(ledger.MethodGetUserInfo); err != nil {
		return nil, err
	}
	u := f.user
	return &u, nil
}

func (f *fakeReader) PoolBalances(ctx context.Context) (*ledger.PoolBalances, error) {
	if err := f.enter(ledger.MethodGetPoolBalances); err != nil {
		return nil, err
	}
	p := f.pools
	return &p, nil
}

func (f *fakeReader) EarningsBreakdown(ctx context.Context, user common.Address) (*ledger.EarningsRecord, error) {
	if err := f.enter(ledger.MethodGetEarningsBreakdown); err != nil {
		return nil, err
	}
	e := f.earnings
	return &e, nil
}

func (f *fakeReader) DirectReferrals(ctx context.Context, user common.Address) (*ledger.ReferralList, error) {
	if err := f.enter(ledger.MethodGetDirectReferrals); err != nil {
		return nil, err
	}
	l := f.list
	return &l, nil
}

func (f *fakeReader) WithdrawalRate(ctx context.Context, user common.Address) (uint8, error) {
	if err := f.enter(ledger.MethodGetWithdrawalRate); err != nil {
		return 0, err
	}
	return f.rate, nil
}

func (f *fakeReader) LegVolumes(ctx context.Context, user common.Address) (*ledger.LegVolumes, error) {
	if err := f.enter(ledger.MethodGetLegVolumes); err != nil {
		return nil, err
	}
	l := f.legs
	return &l, nil
}

func (f *fakeReader) PackagePrices(ctx context.Context) ([]*big.Int, error) {
	if err := f.enter(ledger.MethodGetPackagePrices); err != nil {
		return nil, err
	}
	return f.prices, nil
}
