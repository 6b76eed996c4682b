package store

import (
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/aggregate"
	"github.com/leadfive/ledgerview/pkg/types"
)

func (st *state) applyEarnings(e types.EarningsUpdated) {
	st.dashboard.Earnings.Total = st.dashboard.Earnings.Total.Add(e.Amount)
	st.dashboard.Earnings.Available = st.dashboard.Earnings.Available.Add(e.Amount)

	st.earnings.Total = st.earnings.Total.Add(e.Amount)
	st.earnings.Available = st.earnings.Available.Add(e.Amount)
	st.earnings.Streams = append([]types.StreamAmount(nil), st.earnings.Streams...)
	found := false
	for i := range st.earnings.Streams {
		if st.earnings.Streams[i].Stream == e.Stream {
			st.earnings.Streams[i].Amount = st.earnings.Streams[i].Amount.Add(e.Amount)
			found = true
		}
	}
	if !found {
		st.earnings.Streams = append(st.earnings.Streams, types.StreamAmount{
			Stream: e.Stream,
			Rate:   e.Stream.CommissionRate(),
			Amount: e.Amount,
		})
	}
	st.rederive()
}

func (st *state) applyReferral(e types.NewReferral) {
	st.referrals.List = append([]types.Referral{{Address: e.Referral, Active: true}}, st.referrals.List...)
	st.referrals.DirectCount++
	st.referrals.TeamSize++
	st.referrals.ActiveCount++
	aggregate.RederiveReferrals(&st.referrals)

	st.dashboard.User.DirectReferrals++
	st.dashboard.User.TeamSize++
}

func (st *state) applyWithdrawal(e types.WithdrawalProcessed) {
	st.dashboard.Earnings.Available = floorZero(st.dashboard.Earnings.Available.Sub(e.Amount))
	st.dashboard.Earnings.Withdrawn = st.dashboard.Earnings.Withdrawn.Add(e.Amount)

	st.earnings.Available = floorZero(st.earnings.Available.Sub(e.Amount))
	st.earnings.Withdrawn = st.earnings.Withdrawn.Add(e.Amount)
	st.rederive()
}

func (st *state) applyUpgrade(e types.PackageUpgraded) {
	st.dashboard.Package.Level = e.NewLevel
	st.dashboard.Package.Investment = st.dashboard.Package.Investment.Add(e.AmountPaid)
	st.earnings.Investment = st.earnings.Investment.Add(e.AmountPaid)
	st.rederive()
}

// rederive keeps derived money fields in step with the patched totals.
// Streams is copied first since the slice may be shared with a cached view.
func (st *state) rederive() {
	if st.earnings.Streams != nil {
		st.earnings.Streams = append([]types.StreamAmount(nil), st.earnings.Streams...)
	}
	aggregate.RederiveEarnings(&st.earnings)
	aggregate.RederiveDashboard(&st.dashboard)
}

// pushActivity prepends act and keeps at most limit entries
func (st *state) pushActivity(act types.Activity, limit int) {
	next := make([]types.Activity, 0, limit)
	next = append(next, act)
	for _, a := range st.recentActivity {
		if len(next) == limit {
			break
		}
		next = append(next, a)
	}
	st.recentActivity = next
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
