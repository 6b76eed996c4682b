package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EarningsStream identifies one of the contract's income streams
type EarningsStream string

const (
	StreamDirect EarningsStream = "direct_referral"
	StreamLevel  EarningsStream = "level_bonus"
	StreamUpline EarningsStream = "upline_bonus"
	StreamLeader EarningsStream = "leader_pool"
	StreamHelp   EarningsStream = "help_pool"
)

// Streams returns every stream in contract order
func Streams() []EarningsStream {
	return []EarningsStream{StreamDirect, StreamLevel, StreamUpline, StreamLeader, StreamHelp}
}

// CommissionRate is the percentage of each package payment routed to a stream
func (s EarningsStream) CommissionRate() int64 {
	switch s {
	case StreamDirect:
		return 40
	case StreamHelp:
		return 30
	case StreamLevel, StreamUpline, StreamLeader:
		return 10
	}
	return 0
}

// StreamFromCode maps the contract's uint8 earnings type
func StreamFromCode(code uint8) EarningsStream {
	streams := Streams()
	if int(code) < len(streams) {
		return streams[code]
	}
	return StreamDirect
}

// UserSummary is the account header shown on the dashboard
type UserSummary struct {
	Address         string    `json:"address"`
	IsRegistered    bool      `json:"is_registered"`
	Referrer        string    `json:"referrer,omitempty"`
	ReferralCode    string    `json:"referral_code,omitempty"`
	DirectReferrals int64     `json:"direct_referrals"`
	TeamSize        int64     `json:"team_size"`
	IsBlacklisted   bool      `json:"is_blacklisted"`
	RegisteredAt    time.Time `json:"registered_at,omitempty"`
}

// EarningsSummary holds the dashboard's money figures
type EarningsSummary struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	ROI       decimal.Decimal `json:"roi_percent"`
}

// Pools holds the contract-wide distribution pool balances
type Pools struct {
	Help   decimal.Decimal `json:"help"`
	Leader decimal.Decimal `json:"leader"`
	Club   decimal.Decimal `json:"club"`
}

// Package describes the account's current package and its cap
type Package struct {
	Level            uint8           `json:"level"`
	Tier             int             `json:"tier"`
	Price            decimal.Decimal `json:"price"`
	Investment       decimal.Decimal `json:"investment"`
	MaxEarnings      decimal.Decimal `json:"max_earnings"`
	Progress         decimal.Decimal `json:"progress_percent"`
	UpgradeAvailable bool            `json:"upgrade_available"`
	NextPrice        decimal.Decimal `json:"next_price"`
}

// Dashboard is the overview view model
type Dashboard struct {
	User      UserSummary     `json:"user"`
	Earnings  EarningsSummary `json:"earnings"`
	Pools     Pools           `json:"pools"`
	Package   Package         `json:"package"`
	Source    Source          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StreamAmount is one income stream with its share of the total
type StreamAmount struct {
	Stream EarningsStream  `json:"stream"`
	Rate   int64           `json:"commission_rate_percent"`
	Amount decimal.Decimal `json:"amount"`
	Share  decimal.Decimal `json:"share_percent"`
}

// Earnings is the earnings breakdown view model. BalanceKnown is set when
// Available came from the ledger rather than a default.
type Earnings struct {
	Total           decimal.Decimal `json:"total"`
	Available       decimal.Decimal `json:"available"`
	BalanceKnown    bool            `json:"balance_known"`
	Withdrawable    decimal.Decimal `json:"withdrawable"`
	Reinvest        decimal.Decimal `json:"reinvest"`
	Withdrawn       decimal.Decimal `json:"withdrawn"`
	WithdrawRate    int64           `json:"withdraw_rate_percent"`
	Streams         []StreamAmount  `json:"streams"`
	Investment      decimal.Decimal `json:"investment"`
	ROI             decimal.Decimal `json:"roi_percent"`
	LeaderQualified bool            `json:"leader_qualified"`
	Source          Source          `json:"source"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Stream returns the amount credited to one stream
func (e Earnings) Stream(s EarningsStream) decimal.Decimal {
	for _, sa := range e.Streams {
		if sa.Stream == s {
			return sa.Amount
		}
	}
	return decimal.Zero
}

// Referral is one direct referral
type Referral struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

// Leg identifies one side of the binary team tree
type Leg string

const (
	LegNone  Leg = ""
	LegLeft  Leg = "left"
	LegRight Leg = "right"
)

// Referrals is the team view model
type Referrals struct {
	DirectCount    int64           `json:"direct_count"`
	TeamSize       int64           `json:"team_size"`
	List           []Referral      `json:"list"`
	ActiveCount    int64           `json:"active_count"`
	ConversionRate decimal.Decimal `json:"conversion_rate_percent"`
	LeftVolume     decimal.Decimal `json:"left_volume"`
	RightVolume    decimal.Decimal `json:"right_volume"`
	BalanceRatio   decimal.Decimal `json:"balance_ratio"`
	WeakerLeg      Leg             `json:"weaker_leg,omitempty"`
	Source         Source          `json:"source"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
