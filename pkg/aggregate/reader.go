package aggregate

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leadfive/ledgerview/pkg/ledger"
)

// LedgerReader is the read side of the ledger gateway
type LedgerReader interface {
	UserInfo(ctx context.Context, user common.Address) (*ledger.UserRecord, error)
	PoolBalances(ctx context.Context) (*ledger.PoolBalances, error)
	EarningsBreakdown(ctx context.Context, user common.Address) (*ledger.EarningsRecord, error)
	DirectReferrals(ctx context.Context, user common.Address) (*ledger.ReferralList, error)
	WithdrawalRate(ctx context.Context, user common.Address) (uint8, error)
	LegVolumes(ctx context.Context, user common.Address) (*ledger.LegVolumes, error)
	PackagePrices(ctx context.Context) ([]*big.Int, error)
}

var _ LedgerReader = (*ledger.Gateway)(nil)
