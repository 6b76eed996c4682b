package aggregate

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/types"
)

type dashboardInputs struct {
	user     *ledger.UserRecord
	earnings *ledger.EarningsRecord
	pools    *ledger.PoolBalances
	prices   []*big.Int
}

// NewDashboard creates the dashboard aggregator
func NewDashboard(reader LedgerReader, cfg Config) *Aggregator[types.Dashboard] {
	return New(types.DomainDashboard, reader, buildDashboard, FallbackDashboard, cfg)
}

func buildDashboard(ctx context.Context, p *Pass, r LedgerReader, addr common.Address) types.Dashboard {
	var in dashboardInputs
	p.Settle(ctx,
		ReadInto(ledger.MethodGetUserInfo, &in.user, func(ctx context.Context) (*ledger.UserRecord, error) {
			return r.UserInfo(ctx, addr)
		}),
		ReadInto(ledger.MethodGetEarningsBreakdown, &in.earnings, func(ctx context.Context) (*ledger.EarningsRecord, error) {
			return r.EarningsBreakdown(ctx, addr)
		}),
		ReadInto(ledger.MethodGetPoolBalances, &in.pools, r.PoolBalances),
		ReadInto(ledger.MethodGetPackagePrices, &in.prices, r.PackagePrices),
	)
	return composeDashboard(addr, in, p.Source(), p.Now())
}

// FallbackDashboard is the dashboard shown when nothing could be read
func FallbackDashboard(addr common.Address, now time.Time) types.Dashboard {
	return composeDashboard(addr, dashboardInputs{}, types.SourceFallback, now)
}

func composeDashboard(addr common.Address, in dashboardInputs, source types.Source, now time.Time) types.Dashboard {
	userRead := in.user != nil
	user := normalizeUser(in.user)
	earnings := normalizeEarnings(in.earnings)
	pools := normalizePools(in.pools)
	prices := normalizePrices(in.prices)

	total := ledger.FromWei(user.TotalEarnings)
	if !userRead {
		total = sumStreams(earnings)
	}
	available := ledger.FromWei(user.Balance)
	investment := ledger.FromWei(user.TotalInvestment)

	return types.Dashboard{
		User: types.UserSummary{
			Address:         addr.Hex(),
			IsRegistered:    user.IsRegistered,
			Referrer:        referrerHex(user.Referrer),
			ReferralCode:    user.ReferralCode,
			DirectReferrals: int64(user.DirectReferrals),
			TeamSize:        int64(user.TeamSize),
			IsBlacklisted:   user.IsBlacklisted,
			RegisteredAt:    registeredAt(user.RegistrationTime),
		},
		Earnings: types.EarningsSummary{
			Total:     total,
			Available: available,
			Withdrawn: nonNegative(total.Sub(available)),
			ROI:       percent(total, investment),
		},
		Pools: types.Pools{
			Help:   ledger.FromWei(pools.HelpPool),
			Leader: ledger.FromWei(pools.LeaderPool),
			Club:   ledger.FromWei(pools.ClubPool),
		},
		Package:   composePackage(user, total, investment, prices),
		Source:    source,
		UpdatedAt: now,
	}
}

func composePackage(user *ledger.UserRecord, total, investment decimal.Decimal, prices []*big.Int) types.Package {
	level := user.PackageLevel

	price := decimal.Zero
	if level > 0 && int(level) <= len(prices) {
		price = ledger.FromWei(prices[level-1])
	}

	limit := maxEarnings(ledger.FromWei(user.EarningsCap), investment, price)
	progress := percent(total, limit)
	if progress.GreaterThan(hundred) {
		progress = hundred
	}

	pkg := types.Package{
		Level:       level,
		Tier:        tierFor(price),
		Price:       price,
		Investment:  investment,
		MaxEarnings: limit,
		Progress:    progress,
		NextPrice:   decimal.Zero,
	}
	if user.IsRegistered && int(level) < len(prices) {
		pkg.UpgradeAvailable = true
		pkg.NextPrice = ledger.FromWei(prices[level])
	}
	return pkg
}

func sumStreams(e *ledger.EarningsRecord) decimal.Decimal {
	return ledger.FromWei(e.DirectReferral).
		Add(ledger.FromWei(e.LevelBonus)).
		Add(ledger.FromWei(e.UplineBonus)).
		Add(ledger.FromWei(e.LeaderPool)).
		Add(ledger.FromWei(e.HelpPool))
}

func referrerHex(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func registeredAt(unix uint32) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(int64(unix), 0).UTC()
}
