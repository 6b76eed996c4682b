package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/types"
)

const (
	// ReturnMultiplier caps total earnings at this multiple of the investment
	ReturnMultiplier = 4

	LeaderMinDirect   = 5
	LeaderMinTeam     = 50
	LeaderMinEarnings = 1000
)

var hundred = decimal.NewFromInt(100)

// percent returns part/whole*100 rounded to 2 places, 0 when whole is 0
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// tierFor maps a package price to its tier
func tierFor(price decimal.Decimal) int {
	switch {
	case price.GreaterThanOrEqual(decimal.NewFromInt(200)):
		return 4
	case price.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return 3
	case price.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return 2
	}
	return 1
}

// maxEarnings is the earnings cap, or the return multiple of the investment
// when the contract reports no cap
func maxEarnings(earningsCap, investment, price decimal.Decimal) decimal.Decimal {
	if earningsCap.IsPositive() {
		return earningsCap
	}
	base := investment
	if !base.IsPositive() {
		base = price
	}
	return base.Mul(decimal.NewFromInt(ReturnMultiplier))
}

// legBalance returns weaker/stronger and which leg is weaker
func legBalance(left, right decimal.Decimal) (decimal.Decimal, types.Leg) {
	switch left.Cmp(right) {
	case -1:
		return left.Div(right).Round(4), types.LegLeft
	case 1:
		return right.Div(left).Round(4), types.LegRight
	}
	if left.IsZero() {
		return decimal.Zero, types.LegNone
	}
	return decimal.NewFromInt(1), types.LegNone
}

func leaderQualified(direct, team int64, total decimal.Decimal) bool {
	return direct >= LeaderMinDirect && team >= LeaderMinTeam && total.GreaterThanOrEqual(decimal.NewFromInt(LeaderMinEarnings))
}

// RederiveEarnings recomputes shares, the withdraw split and ROI from the
// earnings' own totals
func RederiveEarnings(e *types.Earnings) {
	streamTotal := decimal.Zero
	for _, sa := range e.Streams {
		streamTotal = streamTotal.Add(sa.Amount)
	}
	for i := range e.Streams {
		e.Streams[i].Share = percent(e.Streams[i].Amount, streamTotal)
	}
	e.Withdrawable = e.Available.Mul(decimal.NewFromInt(e.WithdrawRate)).Div(hundred)
	e.Reinvest = e.Available.Sub(e.Withdrawable)
	e.ROI = percent(e.Total, e.Investment)
}

// RederiveDashboard recomputes ROI and package progress
func RederiveDashboard(d *types.Dashboard) {
	d.Earnings.ROI = percent(d.Earnings.Total, d.Package.Investment)
	progress := percent(d.Earnings.Total, d.Package.MaxEarnings)
	if progress.GreaterThan(hundred) {
		progress = hundred
	}
	d.Package.Progress = progress
}

// RederiveReferrals recomputes the conversion rate over the listed referrals
func RederiveReferrals(r *types.Referrals) {
	r.ConversionRate = percent(decimal.NewFromInt(r.ActiveCount), decimal.NewFromInt(int64(len(r.List))))
}
