package aggregate

import (
	"math/big"

	"github.com/leadfive/ledgerview/pkg/ledger"
)

// DefaultWithdrawalRate is the withdraw share used when the rate read fails;
// the remainder is reinvested
const DefaultWithdrawalRate = 70

// defaultPackagePrices are the launch prices of levels 1-4
var defaultPackagePrices = []int64{30, 50, 100, 200}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func fallbackUser() *ledger.UserRecord {
	return &ledger.UserRecord{
		Balance:         new(big.Int),
		TotalInvestment: new(big.Int),
		TotalEarnings:   new(big.Int),
		EarningsCap:     new(big.Int),
	}
}

func fallbackEarnings() *ledger.EarningsRecord {
	return &ledger.EarningsRecord{
		DirectReferral: new(big.Int),
		LevelBonus:     new(big.Int),
		UplineBonus:    new(big.Int),
		LeaderPool:     new(big.Int),
		HelpPool:       new(big.Int),
	}
}

func fallbackPools() *ledger.PoolBalances {
	return &ledger.PoolBalances{
		HelpPool:   new(big.Int),
		LeaderPool: new(big.Int),
		ClubPool:   new(big.Int),
	}
}

func fallbackPackagePrices() []*big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(ledger.Decimals), nil)
	prices := make([]*big.Int, len(defaultPackagePrices))
	for i, p := range defaultPackagePrices {
		prices[i] = new(big.Int).Mul(big.NewInt(p), unit)
	}
	return prices
}

func fallbackReferrals() *ledger.ReferralList {
	return &ledger.ReferralList{
		Referrals: nil,
		Active:    nil,
	}
}

func fallbackLegs() *ledger.LegVolumes {
	return &ledger.LegVolumes{Left: new(big.Int), Right: new(big.Int)}
}

// normalizeUser replaces nil amounts a partially decoded record may carry
func normalizeUser(u *ledger.UserRecord) *ledger.UserRecord {
	if u == nil {
		return fallbackUser()
	}
	out := *u
	out.Balance = zeroIfNil(u.Balance)
	out.TotalInvestment = zeroIfNil(u.TotalInvestment)
	out.TotalEarnings = zeroIfNil(u.TotalEarnings)
	out.EarningsCap = zeroIfNil(u.EarningsCap)
	return &out
}

func normalizeEarnings(e *ledger.EarningsRecord) *ledger.EarningsRecord {
	if e == nil {
		return fallbackEarnings()
	}
	return &ledger.EarningsRecord{
		DirectReferral: zeroIfNil(e.DirectReferral),
		LevelBonus:     zeroIfNil(e.LevelBonus),
		UplineBonus:    zeroIfNil(e.UplineBonus),
		LeaderPool:     zeroIfNil(e.LeaderPool),
		HelpPool:       zeroIfNil(e.HelpPool),
	}
}

func normalizePools(p *ledger.PoolBalances) *ledger.PoolBalances {
	if p == nil {
		return fallbackPools()
	}
	return &ledger.PoolBalances{
		HelpPool:   zeroIfNil(p.HelpPool),
		LeaderPool: zeroIfNil(p.LeaderPool),
		ClubPool:   zeroIfNil(p.ClubPool),
	}
}

func normalizePrices(prices []*big.Int) []*big.Int {
	if len(prices) == 0 {
		return fallbackPackagePrices()
	}
	out := make([]*big.Int, len(prices))
	for i, p := range prices {
		out[i] = zeroIfNil(p)
	}
	return out
}

func normalizeLegs(l *ledger.LegVolumes) *ledger.LegVolumes {
	if l == nil {
		return fallbackLegs()
	}
	return &ledger.LegVolumes{Left: zeroIfNil(l.Left), Right: zeroIfNil(l.Right)}
}
