package aggregate

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/types"
)

type referralInputs struct {
	user *ledger.UserRecord
	list *ledger.ReferralList
	legs *ledger.LegVolumes
}

// NewReferrals creates the referrals aggregator
func NewReferrals(reader LedgerReader, cfg Config) *Aggregator[types.Referrals] {
	return New(types.DomainReferrals, reader, buildReferrals, FallbackReferrals, cfg)
}

func buildReferrals(ctx context.Context, p *Pass, r LedgerReader, addr common.Address) types.Referrals {
	var in referralInputs
	p.Settle(ctx,
		ReadInto(ledger.MethodGetUserInfo, &in.user, func(ctx context.Context) (*ledger.UserRecord, error) {
			return r.UserInfo(ctx, addr)
		}),
		ReadInto(ledger.MethodGetDirectReferrals, &in.list, func(ctx context.Context) (*ledger.ReferralList, error) {
			return r.DirectReferrals(ctx, addr)
		}),
		ReadInto(ledger.MethodGetLegVolumes, &in.legs, func(ctx context.Context) (*ledger.LegVolumes, error) {
			return r.LegVolumes(ctx, addr)
		}),
	)
	return composeReferrals(in, p.Source(), p.Now())
}

// FallbackReferrals is the team view shown when nothing could be read
func FallbackReferrals(_ common.Address, now time.Time) types.Referrals {
	return composeReferrals(referralInputs{}, types.SourceFallback, now)
}

func composeReferrals(in referralInputs, source types.Source, now time.Time) types.Referrals {
	list := in.list
	if list == nil {
		list = fallbackReferrals()
	}
	legs := normalizeLegs(in.legs)

	referrals := make([]types.Referral, 0, len(list.Referrals))
	var active int64
	for i, addr := range list.Referrals {
		isActive := i < len(list.Active) && list.Active[i]
		if isActive {
			active++
		}
		referrals = append(referrals, types.Referral{Address: addr.Hex(), Active: isActive})
	}

	direct := int64(len(referrals))
	var team int64
	if in.user != nil {
		direct = int64(in.user.DirectReferrals)
		team = int64(in.user.TeamSize)
	}
	if team < direct {
		team = direct
	}

	left := ledger.FromWei(legs.Left)
	right := ledger.FromWei(legs.Right)
	ratio, weaker := legBalance(left, right)

	return types.Referrals{
		DirectCount:    direct,
		TeamSize:       team,
		List:           referrals,
		ActiveCount:    active,
		ConversionRate: percent(decimal.NewFromInt(active), decimal.NewFromInt(int64(len(referrals)))),
		LeftVolume:     left,
		RightVolume:    right,
		BalanceRatio:   ratio,
		WeakerLeg:      weaker,
		Source:         source,
		UpdatedAt:      now,
	}
}
