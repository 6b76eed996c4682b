package aggregate

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/types"
)

type earningsInputs struct {
	user     *ledger.UserRecord
	earnings *ledger.EarningsRecord
	rate     *uint8
}

// NewEarnings creates the earnings aggregator
func NewEarnings(reader LedgerReader, cfg Config) *Aggregator[types.Earnings] {
	return New(types.DomainEarnings, reader, buildEarnings, FallbackEarnings, cfg)
}

func buildEarnings(ctx context.Context, p *Pass, r LedgerReader, addr common.Address) types.Earnings {
	var in earningsInputs
	p.Settle(ctx,
		ReadInto(ledger.MethodGetUserInfo, &in.user, func(ctx context.Context) (*ledger.UserRecord, error) {
			return r.UserInfo(ctx, addr)
		}),
		ReadInto(ledger.MethodGetEarningsBreakdown, &in.earnings, func(ctx context.Context) (*ledger.EarningsRecord, error) {
			return r.EarningsBreakdown(ctx, addr)
		}),
		ReadInto(ledger.MethodGetWithdrawalRate, &in.rate, func(ctx context.Context) (*uint8, error) {
			rate, err := r.WithdrawalRate(ctx, addr)
			if err != nil {
				return nil, err
			}
			return &rate, nil
		}),
	)
	return composeEarnings(in, p.Source(), p.Now())
}

// FallbackEarnings is the earnings view shown when nothing could be read
func FallbackEarnings(_ common.Address, now time.Time) types.Earnings {
	return composeEarnings(earningsInputs{}, types.SourceFallback, now)
}

func composeEarnings(in earningsInputs, source types.Source, now time.Time) types.Earnings {
	userRead := in.user != nil
	user := normalizeUser(in.user)
	breakdown := normalizeEarnings(in.earnings)

	rate := int64(DefaultWithdrawalRate)
	if in.rate != nil {
		rate = int64(*in.rate)
	}

	amounts := map[types.EarningsStream]decimal.Decimal{
		types.StreamDirect: ledger.FromWei(breakdown.DirectReferral),
		types.StreamLevel:  ledger.FromWei(breakdown.LevelBonus),
		types.StreamUpline: ledger.FromWei(breakdown.UplineBonus),
		types.StreamLeader: ledger.FromWei(breakdown.LeaderPool),
		types.StreamHelp:   ledger.FromWei(breakdown.HelpPool),
	}

	streams := make([]types.StreamAmount, 0, len(amounts))
	for _, s := range types.Streams() {
		streams = append(streams, types.StreamAmount{
			Stream: s,
			Rate:   s.CommissionRate(),
			Amount: amounts[s],
		})
	}

	total := ledger.FromWei(user.TotalEarnings)
	if !userRead {
		total = sumStreams(breakdown)
	}
	available := ledger.FromWei(user.Balance)

	vm := types.Earnings{
		Total:           total,
		Available:       available,
		BalanceKnown:    userRead,
		Withdrawn:       nonNegative(total.Sub(available)),
		WithdrawRate:    rate,
		Streams:         streams,
		Investment:      ledger.FromWei(user.TotalInvestment),
		LeaderQualified: user.IsRegistered && leaderQualified(int64(user.DirectReferrals), int64(user.TeamSize), total),
		Source:          source,
		UpdatedAt:       now,
	}
	RederiveEarnings(&vm)
	return vm
}
